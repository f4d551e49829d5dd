package config

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseProxies(t *testing.T) {
	got := parseProxies(" 10.0.0.0/8, 192.168.1.5 ,garbage,, ::1 ")
	if len(got) != 3 {
		t.Fatalf("want 3 ranges, got %v", got)
	}
	if got[0].String() != "10.0.0.0/8" || got[1].String() != "192.168.1.5/32" || got[2].String() != "::1/128" {
		t.Fatalf("unexpected ranges %v", got)
	}
}

func TestIPExtractorIgnoresHeadersWithoutProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	extract := IPExtractor(LoadTrustedProxies())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	r.Header.Set("X-Real-IP", "127.0.0.1")
	if got := extract(r); got != "203.0.113.9" {
		t.Fatalf("got %q", got)
	}
}

func TestIPExtractorTrustsOnlyListedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.1.0.0/16")
	extract := IPExtractor(LoadTrustedProxies())

	// Behind the proxy: the rightmost untrusted hop is the client.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5000"
	r.Header.Set("X-Forwarded-For", "127.0.0.1, 198.51.100.7")
	if got := extract(r); got != "198.51.100.7" {
		t.Fatalf("behind proxy: got %q", got)
	}

	// Straight to the server: the header is the caller's own input.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	if got := extract(r); got != "203.0.113.9" {
		t.Fatalf("direct: got %q", got)
	}

	// Loopback is not implicitly a proxy.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := extract(r); got != "127.0.0.1" {
		t.Fatalf("loopback peer: got %q", got)
	}
}
