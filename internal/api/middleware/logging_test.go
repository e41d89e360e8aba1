package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger_LevelsAndRequestID(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"200 — INFO", http.StatusOK, "INFO"},
		{"404 — WARN", http.StatusNotFound, "WARN"},
		{"502 — ERROR", http.StatusBadGateway, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			var seenID string
			h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID = RequestIDFromContext(r.Context())
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ok"))
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pids/register", http.NoBody))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("невалидная запись лога %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, ожидался %s", entry["level"], tt.wantLevel)
			}
			if entry["status"] != float64(tt.status) || entry["bytes"] != float64(2) {
				t.Errorf("status/bytes = %v/%v", entry["status"], entry["bytes"])
			}
			headerID := rec.Header().Get(HeaderRequestID)
			if headerID == "" || entry["request_id"] != headerID || seenID != headerID {
				t.Errorf("request_id: заголовок %q, лог %v, контекст %q", headerID, entry["request_id"], seenID)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/pids/register":     "/api/v1/pids/register",
		"/api/v1/objects/publicize": "/api/v1/objects/publicize",
		"/health/ready":             "/health/ready",
		"/api/v1/pids/10.5072/X1":   "other",
		"/favicon.ico":              "other",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

func TestMetricsMiddleware_StatusCapture(t *testing.T) {
	var inner *metricsResponseWriter
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		inner, _ = w.(*metricsResponseWriter)
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pids/modify", http.NoBody))

	if rec.Code != http.StatusConflict {
		t.Errorf("статус = %d, ожидался 409", rec.Code)
	}
	if inner == nil || inner.statusCode != http.StatusConflict {
		t.Error("metricsResponseWriter не перехватил статус")
	}
	if inner != nil && inner.Unwrap() != rec {
		t.Error("Unwrap не вернул исходный ResponseWriter")
	}
}
