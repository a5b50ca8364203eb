// v0
// internal/fetch/fetch.go
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UserAgent is sent with every upstream request.
const UserAgent = "Mozilla/5.0 (QC-Dashboard)"

// maxBody caps upstream documents.
var maxBody int64 = 16 << 20

// ErrBodyTooLarge means an upstream document exceeded the size cap. The
// body is rejected rather than truncated.
var ErrBodyTooLarge = errors.New("response body too large")

// Doer is satisfied by *http.Client and the breaker-wrapped client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheBust appends a `_=<unix seconds>` query parameter to rawURL.
func CacheBust(rawURL string, now time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(now.Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Get retrieves rawURL with a cache-busting parameter and returns the body
// of a 2xx response.
func Get(ctx context.Context, client Doer, rawURL string) ([]byte, error) {
	busted, err := CacheBust(rawURL, time.Now())
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, busted, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, fmt.Errorf("%s: over %d bytes: %w", rawURL, maxBody, ErrBodyTooLarge)
	}
	return body, nil
}
