package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewRateLimit(3).Handler(ok)

	serve := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for range 3 {
		require.Equal(t, http.StatusNoContent, serve("10.0.0.1:5000").Code, "burst is allowed")
	}

	throttled := serve("10.0.0.1:5001")
	require.Equal(t, http.StatusTooManyRequests, throttled.Code, "same ip on another port is the same client")
	require.Equal(t, "20", throttled.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error": "service_error", "message": "Too many requests"}`, throttled.Body.String())

	require.Equal(t, http.StatusNoContent, serve("10.0.0.2:5000").Code, "other clients are not affected")
}

func TestRateLimit_clientsAreCapped(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rl := NewRateLimit(1)
	rl.maxClients = 3
	h := rl.Handler(ok)

	serve := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("least recently seen is evicted", func(t *testing.T) {
		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
			require.Equal(t, http.StatusNoContent, serve(ip))
		}
		rl.clients["10.0.0.2"].lastSeen = time.Now().Add(-time.Minute)

		require.Equal(t, http.StatusNoContent, serve("10.0.0.4"))

		require.Len(t, rl.clients, 3)
		require.NotContains(t, rl.clients, "10.0.0.2")
		require.Equal(t, http.StatusTooManyRequests, serve("10.0.0.1"), "recent clients keep their limiter")
	})

	t.Run("many distinct clients", func(t *testing.T) {
		for i := range 50 {
			serve(fmt.Sprintf("192.168.0.%d", i))
			require.LessOrEqual(t, len(rl.clients), 3)
		}
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "192.168.1.10:41234"
	require.Equal(t, "192.168.1.10", ClientIP(req))

	req.RemoteAddr = "[::1]:8080"
	require.Equal(t, "::1", ClientIP(req))

	// chi RealIP sets bare address
	req.RemoteAddr = "203.0.113.7"
	require.Equal(t, "203.0.113.7", ClientIP(req))
}
