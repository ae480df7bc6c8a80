package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestCapturingTransportRecords(t *testing.T) {
	transport := &CapturingTransport{Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, `{"q":1}`, string(body))
		return &http.Response{StatusCode: 429, Body: io.NopCloser(strings.NewReader(`{"error": {"message": "slow down"}}`))}, nil
	})}

	ctx, capture := WithCapture(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://backend.test/v1", strings.NewReader(`{"q":1}`))
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "slow down")

	reqBody, respBody, status, url := capture.Last()
	assert.Equal(t, `{"q":1}`, string(reqBody))
	assert.Equal(t, body, respBody)
	assert.Equal(t, 429, status)
	assert.Equal(t, "http://backend.test/v1", url)

	res := &Result{}
	capture.apply(res)
	assert.Equal(t, 429, res.HTTPStatus)
	assert.Equal(t, "slow down", res.ErrorMessage)
}

func TestCapturingTransportRequestBodyError(t *testing.T) {
	called := false
	transport := &CapturingTransport{Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unreachable")
	})}

	ctx, _ := WithCapture(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://backend.test/v1", io.NopCloser(failingReader{}))
	require.NoError(t, err)

	_, err = transport.RoundTrip(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, called, "a truncated body must not be forwarded")
}

func TestCapturingTransportPassesThroughWithoutCapture(t *testing.T) {
	transport := &CapturingTransport{Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	})}
	req, err := http.NewRequest(http.MethodGet, "http://backend.test/", nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
