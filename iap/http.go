package iap

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// HTTPClient is the blocking RPC primitive used to reach storefront servers.
// *http.Client satisfies it. Timeouts, redirects and cookies are the client's
// concern.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Send performs req and reads the full response body. Any failure to
// complete the exchange is returned as a transport ValidationError.
func Send(ctx context.Context, client HTTPClient, req *http.Request) (*Response, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, NewTransportError(0, "request failed", errors.Wrapf(err, "%s %s", req.Method, req.URL.Redacted()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError(resp.StatusCode, "failed to read response body", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
