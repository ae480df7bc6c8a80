package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
)

type captureKey struct{}

// Capture holds the raw request/response of one attempt. Adapters attach it
// to the request context so SDK clients can be shared across attempts.
type Capture struct {
	mu       sync.Mutex
	request  []byte
	response []byte
	status   int
	url      string
}

// WithCapture returns a context that records HTTP traffic made through a
// CapturingTransport.
func WithCapture(ctx context.Context) (context.Context, *Capture) {
	c := &Capture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

func captureFrom(ctx context.Context) *Capture {
	c, _ := ctx.Value(captureKey{}).(*Capture)
	return c
}

// Last returns the most recent exchange recorded.
func (c *Capture) Last() (reqBody, respBody []byte, status int, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request, c.response, c.status, c.url
}

// apply copies the captured status and body onto res without overwriting
// values the adapter already set.
func (c *Capture) apply(res *Result) {
	_, body, status, _ := c.Last()
	if res.RawBody == nil {
		res.RawBody = body
	}
	if res.HTTPStatus == 0 {
		res.HTTPStatus = status
	}
	if res.ErrorMessage == "" && status >= 400 {
		res.ErrorMessage = errorMessageFromBody(body)
	}
}

// CapturingTransport is an http.RoundTripper that records request/response
// bodies into the Capture found on the request context. Requests without a
// Capture pass straight through.
type CapturingTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *CapturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	c := captureFrom(req.Context())
	if c == nil {
		return base.RoundTrip(req)
	}

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	c.mu.Lock()
	c.request = reqBody
	c.url = req.URL.String()
	c.response = nil
	c.status = 0
	c.mu.Unlock()

	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Re-wrap so the SDK can still read the body.
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	c.mu.Lock()
	c.response = respBody
	c.status = resp.StatusCode
	c.mu.Unlock()

	if readErr != nil {
		return nil, readErr
	}
	return resp, nil
}

// errorMessageFromBody extracts a human-readable message from the error
// shapes used by the supported backends.
func errorMessageFromBody(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}
