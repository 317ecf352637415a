package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	tb := NewTokenBucket(2, 3)
	tb.now = func() time.Time { return now }
	tb.last = now
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("burst request %d rejected", i)
		}
	}
	if tb.Allow() {
		t.Fatalf("bucket should be empty")
	}
	now = now.Add(500 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("half a second at 2 qps should refill one token")
	}
	if tb.Allow() {
		t.Fatalf("only one token refilled")
	}
	now = now.Add(time.Hour)
	n := 0
	for tb.Allow() {
		n++
	}
	if n != 3 {
		t.Fatalf("refill capped at %d, want 3", n)
	}
}

func TestWrapRejectsAndExempts(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Wrap(ok, true, 0.001, 1, "/metrics")

	codes := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		return rec.Code
	}
	if c := codes("/api/view"); c != http.StatusNoContent {
		t.Fatalf("first = %d", c)
	}
	if c := codes("/api/view"); c != http.StatusTooManyRequests {
		t.Fatalf("second = %d", c)
	}
	if c := codes("/metrics"); c != http.StatusNoContent {
		t.Fatalf("exempt = %d", c)
	}
	if Wrap(ok, false, 1, 1) == nil {
		t.Fatalf("disabled wrap must return handler")
	}
}
