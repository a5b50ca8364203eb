// v1
// internal/circuitbreaker/httpcb.go
package circuitbreaker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps a standard http.Client with circuit breaker behavior.
// Server errors (5xx) count as failures and are returned as errors with the
// response body already closed.
type HTTPClient struct {
	Client *http.Client
	brk    *Breaker
}

func NewHTTPClient(brk *Breaker, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{Client: httpClient, brk: brk}
}

// Breaker exposes the underlying breaker.
func (h *HTTPClient) Breaker() *Breaker { return h.brk }

func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if h.brk == nil {
		return h.Client.Do(req)
	}
	var resp *http.Response
	err := h.brk.Execute(req.Context(), func(ctx context.Context) error {
		r, err := h.Client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			// Drain a little so the connection can be reused.
			_, _ = io.CopyN(io.Discard, r.Body, 512)
			_ = r.Body.Close()
			return fmt.Errorf("upstream status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	return resp, err
}
