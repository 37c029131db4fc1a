package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("upstream unavailable")

// Forwarder relays admitted completion requests to the gateway upstream.
type Forwarder struct {
	baseURL string
	client  *http.Client
	breaker *Breaker
}

func NewForwarder(baseURL string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker(3, 15*time.Second),
	}
}

// Forward sends the request body upstream and returns the raw response.
// The caller owns the response body. 5xx responses and transport errors
// count against the breaker.
func (f *Forwarder) Forward(ctx context.Context, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	if !f.breaker.Allow() {
		return nil, ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		f.breaker.OnFailure()
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := f.client.Do(req)
	if err != nil {
		f.breaker.OnFailure()
		return nil, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		f.breaker.OnFailure()
	} else {
		f.breaker.OnSuccess()
	}
	return res, nil
}
