package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenBucketRefills(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d denied", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("third request allowed")
	}
	if !l.allow("5.6.7.8") {
		t.Fatal("other key denied")
	}

	clock = clock.Add(2 * time.Second)
	if !l.allow("1.2.3.4") {
		t.Fatal("not refilled after two seconds")
	}
}

type stubLimiter struct {
	ok  bool
	err error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.ok, s.err }

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		limiter Limiter
		want    int
	}{
		{"allowed", stubLimiter{ok: true}, http.StatusOK},
		{"denied", stubLimiter{ok: false}, http.StatusTooManyRequests},
		{"limiter down", stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RateLimit(tc.limiter))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}
