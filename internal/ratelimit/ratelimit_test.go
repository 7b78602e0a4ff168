package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")

	if ip := ClientIP(r); ip != "203.0.113.50" {
		t.Errorf("ClientIP = %q, want 203.0.113.50", ip)
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.23")

	if ip := ClientIP(r); ip != "198.51.100.23" {
		t.Errorf("ClientIP = %q, want 198.51.100.23", ip)
	}
}

func TestClientIP_RemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:12345"

	if ip := ClientIP(r); ip != "192.0.2.1" {
		t.Errorf("ClientIP = %q, want 192.0.2.1", ip)
	}
}

func TestClientIP_Precedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Real-IP", "198.51.100.23")
	r.RemoteAddr = "192.0.2.1:12345"

	if ip := ClientIP(r); ip != "203.0.113.50" {
		t.Errorf("ClientIP = %q, want X-Forwarded-For to win", ip)
	}
}
