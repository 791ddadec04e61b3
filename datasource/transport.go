// ABOUTME: Shared HTTP transport for REST metric backends
// ABOUTME: Supports tunneling through an SSH+SOCKS5 proxy via WATCHER_ALL_PROXY

package datasource

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	proxy "github.com/cloudfoundry/socks5-proxy"

	"github.com/openstack/watcher-sub000/models"
)

// restError maps a backend HTTP status into the error taxonomy the router
// understands: 404 means the backend has no record, 401/403 is an auth
// failure, anything else is retried as transient.
func restError(datasource string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", datasource, strings.TrimSpace(string(body)), models.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s rejected credentials (status %d): %w", datasource, resp.StatusCode, models.ErrAuthFailure)
	default:
		return models.Transient(fmt.Errorf("%s returned status %d: %s", datasource, resp.StatusCode, strings.TrimSpace(string(body))))
	}
}

// newHTTPClient builds the client used by REST-based providers. When
// WATCHER_ALL_PROXY is set, connections are tunneled through the
// configured SSH+SOCKS5 proxy, matching how operators reach metric
// backends on isolated management networks.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSHandshakeTimeout: 30 * time.Second,
	}

	if raw := os.Getenv("WATCHER_ALL_PROXY"); raw != "" {
		tunnel, err := parseProxyTunnel(raw)
		if err != nil {
			slog.Error("Ignoring WATCHER_ALL_PROXY, connecting directly", "error", err)
		} else {
			transport.DialContext = tunnel.dialContext()
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// proxyTunnel holds the pieces of a ssh+socks5://user@host:port proxy
// URL needed to open the tunnel. The SSH key is named by a private-key
// query parameter and read at parse time so a bad path fails fast.
type proxyTunnel struct {
	user string
	host string
	key  string
}

func parseProxyTunnel(raw string) (*proxyTunnel, error) {
	u, err := url.Parse(strings.TrimPrefix(raw, "ssh+"))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	keyPath := u.Query().Get("private-key")
	if keyPath == "" {
		return nil, fmt.Errorf("proxy URL %q has no private-key query parameter", u.Redacted())
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading proxy SSH key: %w", err)
	}
	tunnel := &proxyTunnel{host: u.Host, key: string(key)}
	if u.User != nil {
		tunnel.user = u.User.Username()
	}
	return tunnel, nil
}

// dialContext returns a DialContext that routes through the tunnel. The
// SSH session is established on first use and shared by later dials.
func (t *proxyTunnel) dialContext() func(ctx context.Context, network, address string) (net.Conn, error) {
	socks5 := proxy.NewSocks5Proxy(proxy.NewHostKey(), log.Default(), time.Minute)

	var (
		mu   sync.Mutex
		dial proxy.DialFunc
	)
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		mu.Lock()
		if dial == nil {
			d, err := socks5.Dialer(t.user, t.key, t.host)
			if err != nil {
				mu.Unlock()
				return nil, fmt.Errorf("opening SOCKS5 tunnel via %s: %w", t.host, err)
			}
			dial = d
		}
		d := dial
		mu.Unlock()
		return d(network, address)
	}
}
