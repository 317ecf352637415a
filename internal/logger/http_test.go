package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func accessRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestAccessLogCarriesRoute(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := AccessMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetRoute(r.Context(), "view_drill")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/view/drill/7", nil))

	m := accessRecord(t, &buf)
	if m["msg"] != "http_access" || m["route"] != "view_drill" || m["level"] != "DEBUG" {
		t.Fatalf("record = %v", m)
	}
	if m["status"] != float64(http.StatusAccepted) || m["bytes"] != float64(2) {
		t.Fatalf("status/bytes = %v %v", m["status"], m["bytes"])
	}
}

func TestAccessLogWarnsOnServerError(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := AccessMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	m := accessRecord(t, &buf)
	if m["level"] != "WARN" || m["route"] != "" {
		t.Fatalf("record = %v", m)
	}
}

func TestSetRouteWithoutMiddleware(t *testing.T) {
	r := httptest.NewRequest("GET", "/view", nil)
	SetRoute(r.Context(), "view")
}
