package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Backend is the remote browser service: a liveness probe plus acquisition
// of a DevTools websocket endpoint
type Backend interface {
	Health(ctx context.Context) error
	AcquireEndpoint(ctx context.Context) (string, error)
}

// HTTPBackend talks to a browserless-style /json/version endpoint
type HTTPBackend struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// NewHTTPBackend parses baseURL and builds a backend with the given probe timeout
func NewHTTPBackend(baseURL, token string, timeout time.Duration) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid automation backend url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: u,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (b *HTTPBackend) versionURL() string {
	u := *b.baseURL
	u.Path = "/json/version"
	if b.token != "" {
		q := u.Query()
		q.Set("token", b.token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (b *HTTPBackend) fetchVersion(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.versionURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: probe returned HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var version map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("%w: undecodable version document: %v", ErrBackendUnavailable, err)
	}
	return version, nil
}

// Health probes the backend over HTTP before any websocket handshake
func (b *HTTPBackend) Health(ctx context.Context) error {
	_, err := b.fetchVersion(ctx)
	return err
}

// AcquireEndpoint returns the browser websocket URL, rewritten to the
// configured backend host so it is reachable from this process
func (b *HTTPBackend) AcquireEndpoint(ctx context.Context) (string, error) {
	version, err := b.fetchVersion(ctx)
	if err != nil {
		return "", err
	}

	raw, _ := version["webSocketDebuggerUrl"].(string)
	if raw == "" {
		return "", fmt.Errorf("%w: version document has no webSocketDebuggerUrl", ErrBackendUnavailable)
	}

	return RewriteEndpoint(raw, b.baseURL, b.token)
}

// RewriteEndpoint points a DevTools websocket URL at base, keeping its path,
// and carries the token as a query parameter
func RewriteEndpoint(raw string, base *url.URL, token string) (string, error) {
	ws, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid websocket url %q", ErrBackendUnavailable, raw)
	}

	switch base.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	ws.Host = base.Host

	if token != "" {
		q := ws.Query()
		q.Set("token", token)
		ws.RawQuery = q.Encode()
	}
	return ws.String(), nil
}
