package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakeAllower struct {
	allowed bool
	err     error
	lastKey string
}

func (f *fakeAllower) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.lastKey = key
	return f.allowed, f.err
}

func invoke(t *testing.T, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	reached := false
	handler := mw(func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	return rec, reached
}

func TestRateLimitAllows(t *testing.T) {
	lim := &fakeAllower{allowed: true}
	mw := NewRateLimitMiddleware(lim, RateLimitConfig{Limit: 10, Window: time.Minute})

	rec, reached := invoke(t, mw)
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("allowed request blocked: reached=%v code=%d", reached, rec.Code)
	}
	if lim.lastKey == "" {
		t.Error("limiter called without a key")
	}
}

func TestRateLimitRejectsWith429(t *testing.T) {
	mw := NewRateLimitMiddleware(&fakeAllower{allowed: false}, RateLimitConfig{Limit: 10, Window: time.Minute})

	rec, reached := invoke(t, mw)
	if reached {
		t.Error("handler ran despite the limiter's rejection")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mw := NewRateLimitMiddleware(&fakeAllower{err: errors.New("redis down")}, RateLimitConfig{Limit: 10, Window: time.Minute})

	rec, reached := invoke(t, mw)
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("limiter error blocked the request: reached=%v code=%d", reached, rec.Code)
	}
}

func TestRateLimitCustomKey(t *testing.T) {
	lim := &fakeAllower{allowed: true}
	mw := NewRateLimitMiddleware(lim, RateLimitConfig{
		Limit:   10,
		Window:  time.Minute,
		KeyFunc: func(c echo.Context) string { return "participant-42" },
	})

	if _, reached := invoke(t, mw); !reached {
		t.Fatal("allowed request blocked")
	}
	if lim.lastKey != "limiter:participant-42" {
		t.Fatalf("key = %q, want limiter:participant-42", lim.lastKey)
	}
}
