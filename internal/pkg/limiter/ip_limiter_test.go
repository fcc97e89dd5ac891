package limiter

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAllowAddrPerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 2)
	defer l.Stop()

	a := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	b := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	assert.True(t, l.AllowAddr(a))
	assert.True(t, l.AllowAddr(&net.TCPAddr{IP: a.IP, Port: 6000}), "port must not split the bucket")
	assert.False(t, l.AllowAddr(a))
	assert.True(t, l.AllowAddr(b))
	assert.Equal(t, 2, l.Size())
}

func TestSweepRemovesIdle(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1000), 1)
	defer l.Stop()

	l.GetLimiter("10.0.0.1").Allow()
	removed, remaining := l.sweep(time.Now().Add(time.Second))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, remaining)
}

func TestMiddleware(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 1)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
