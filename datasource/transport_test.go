// ABOUTME: Tests for the REST transport helpers
// ABOUTME: Covers proxy URL parsing and backend error classification

package datasource

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openstack/watcher-sub000/models"
)

func TestParseProxyTunnel(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(keyPath, []byte("fake-key-material"), 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	tunnel, err := parseProxyTunnel("ssh+socks5://jumpuser@bastion:2222?private-key=" + keyPath)
	if err != nil {
		t.Fatalf("parseProxyTunnel: %v", err)
	}
	if tunnel.user != "jumpuser" {
		t.Errorf("expected user jumpuser, got %q", tunnel.user)
	}
	if tunnel.host != "bastion:2222" {
		t.Errorf("expected host bastion:2222, got %q", tunnel.host)
	}
	if tunnel.key != "fake-key-material" {
		t.Errorf("key not loaded, got %q", tunnel.key)
	}
}

func TestParseProxyTunnelRejectsBadInput(t *testing.T) {
	if _, err := parseProxyTunnel("ssh+socks5://user@host:22"); err == nil {
		t.Error("expected error when private-key parameter is missing")
	}
	if _, err := parseProxyTunnel("ssh+socks5://user@host:22?private-key=/does/not/exist"); err == nil {
		t.Error("expected error for an unreadable key path")
	}
}

func TestRestErrorClassification(t *testing.T) {
	mkResp := func(status int, body string) *http.Response {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
	}

	if err := restError("prometheus", mkResp(http.StatusNotFound, "no series")); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("404: expected ErrNotFound, got %v", err)
	}
	if err := restError("prometheus", mkResp(http.StatusUnauthorized, "denied")); !errors.Is(err, models.ErrAuthFailure) {
		t.Errorf("401: expected ErrAuthFailure, got %v", err)
	}
	if err := restError("prometheus", mkResp(http.StatusBadGateway, "upstream down")); !models.IsTransient(err) {
		t.Errorf("502: expected a transient error, got %v", err)
	}
}
