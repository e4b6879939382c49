// Package transport builds the HTTP client used to fetch manifests and assets.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	oerrors "github.com/opmodel/hcp/internal/errors"
)

// UserAgent is sent with every request.
const UserAgent = "hcp-updater"

// DefaultTimeout bounds one request including the body transfer.
const DefaultTimeout = 60 * time.Second

// NewClient creates an HTTP client for update traffic. maxConnsPerHost caps
// concurrent connections to the update server; zero means no cap.
// Proxy settings come from the environment (HTTP_PROXY, HTTPS_PROXY).
func NewClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   maxConnsPerHost,
			MaxConnsPerHost:       maxConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Get issues a GET request for url. Transport failures are wrapped with
// ErrConnectivity; the caller checks the status code and closes the body.
func Get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", oerrors.ErrConnectivity, url, err)
	}
	return resp, nil
}
