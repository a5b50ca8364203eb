// v0
// internal/source/sse.go
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
)

// SSEDialer opens a server-sent event stream and delivers each event's
// data field as one message.
type SSEDialer struct {
	// Client must not carry an overall timeout; streams are long lived.
	Client *http.Client
}

type sseConn struct {
	cancel context.CancelFunc
	once   sync.Once
	closed chan struct{}
}

func (c *sseConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
	})
	return nil
}

func (c *sseConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (d SSEDialer) Dial(ctx context.Context, endpoint string, onMessage MessageFunc, onLost LostFunc) (Conn, error) {
	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", fetch.UserAgent)

	resp, err := client.Do(req)
	if !stop() {
		cancel()
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("open stream: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: unexpected content type %q", mt)
	}

	conn := &sseConn{cancel: cancel, closed: make(chan struct{})}
	go func() {
		defer func() {
			_ = resp.Body.Close()
		}()
		err := readEvents(resp.Body, onMessage)
		if conn.isClosed() {
			return
		}
		if err == nil {
			err = io.EOF
		}
		onLost(err)
	}()
	return conn, nil
}

// readEvents dispatches every complete event until the stream ends.
func readEvents(r io.Reader, onMessage MessageFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				onMessage([]byte(strings.Join(data, "\n")))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
