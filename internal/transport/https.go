package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPS is a persistent keep-alive HTTP client shared by the RPC
// multiplexer (for JSON-RPC-over-HTTPS) and the telemetry publisher (for
// InfluxDB line-protocol writes). Retries on 5xx and transport errors,
// matching the teacher's REST client configuration.
type HTTPS struct {
	client *resty.Client
}

// NewHTTPS builds an HTTPS transport rooted at baseURL.
func NewHTTPS(baseURL string, timeout time.Duration) *HTTPS {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &HTTPS{client: client}
}

// Post issues a POST with the given headers and raw body, returning the raw
// response body. Used by the RPC mux (JSON-RPC envelope) and the telemetry
// publisher (line-protocol body).
func (h *HTTPS) Post(ctx context.Context, path string, headers map[string]string, body []byte) ([]byte, int, error) {
	req := h.client.R().SetContext(ctx).SetBody(body)
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, 0, fmt.Errorf("post %s: %w", path, err)
	}
	return resp.Body(), resp.StatusCode(), nil
}

// Get issues a GET with the given headers and query params.
func (h *HTTPS) Get(ctx context.Context, path string, headers map[string]string, query map[string]string) ([]byte, int, error) {
	req := h.client.R().SetContext(ctx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	for k, v := range query {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	return resp.Body(), resp.StatusCode(), nil
}

// Delete issues a DELETE with the given headers and raw body.
func (h *HTTPS) Delete(ctx context.Context, path string, headers map[string]string, body []byte) ([]byte, int, error) {
	req := h.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	resp, err := req.Delete(path)
	if err != nil {
		return nil, 0, fmt.Errorf("delete %s: %w", path, err)
	}
	return resp.Body(), resp.StatusCode(), nil
}
