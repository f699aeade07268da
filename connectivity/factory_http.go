package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/uemcp/horosafe"
)

// httpConfig is the per-route config parsed from the routes table JSON.
type httpConfig struct {
	TimeoutMs   int64  `json:"timeout_ms,omitempty"`
	Method      string `json:"method,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// HTTPFactory creates Handlers that talk to a listener over plain HTTP.
// Route config:
//
//	{"method": "POST", "content_type": "application/json", "timeout_ms": 30000}
//
// POST (the default) sends the payload as the request body; GET ignores it.
// Without timeout_ms the caller's context bounds the request. A non-2xx
// answer returns *ErrHTTPStatus carrying the body.
//
// Loopback endpoints are accepted: the editor listener binds to localhost.
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: parse endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, nil, fmt.Errorf("connectivity/http: unsupported scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return nil, nil, fmt.Errorf("connectivity/http: endpoint %q has no host", endpoint)
		}

		var cfg httpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: config: %w", err)
			}
		}

		method := http.MethodPost
		switch cfg.Method {
		case "", http.MethodPost:
		case http.MethodGet:
			method = http.MethodGet
		default:
			return nil, nil, fmt.Errorf("connectivity/http: unsupported method %q", cfg.Method)
		}

		contentType := "application/json"
		if cfg.ContentType != "" {
			contentType = cfg.ContentType
		}

		client := &http.Client{}
		if cfg.TimeoutMs > 0 {
			client.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			var body io.Reader
			if method == http.MethodPost {
				body = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			if method == http.MethodPost {
				req.Header.Set("Content-Type", contentType)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &ErrHTTPStatus{Code: resp.StatusCode, Body: data}
			}
			return data, nil
		}

		closeFn := func() {
			client.CloseIdleConnections()
		}

		return handler, closeFn, nil
	}
}
