package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logOnce runs one request through LoggingMiddleware and returns the
// response and the decoded log line.
func logOnce(t *testing.T, req *http.Request, status int) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(&buf), zapcore.InfoLevel))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	w := httptest.NewRecorder()
	LoggingMiddleware(logger)(handler).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v, log: %s", err, buf.String())
	}
	return w, entry
}

func TestLoggingMiddleware(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhooks/alerts", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	_, entry := logOnce(t, req, http.StatusAccepted)

	if entry["method"] != "POST" {
		t.Errorf("expected method POST, got %v", entry["method"])
	}
	if entry["path"] != "/webhooks/alerts" {
		t.Errorf("expected path /webhooks/alerts, got %v", entry["path"])
	}
	if entry["status"].(float64) != 202 {
		t.Errorf("expected status 202, got %v", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms in log entry")
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	w, entry := logOnce(t, httptest.NewRequest("GET", "/status", nil), http.StatusOK)
	generated := w.Header().Get("X-Request-ID")
	if generated == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if entry["request_id"] != generated {
		t.Errorf("expected request_id %s, got %v", generated, entry["request_id"])
	}

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w, entry = logOnce(t, req, http.StatusOK)
	if w.Header().Get("X-Request-ID") != "req-42" || entry["request_id"] != "req-42" {
		t.Errorf("expected caller request id to be kept, got header %q log %v",
			w.Header().Get("X-Request-ID"), entry["request_id"])
	}
}

func TestLoggingMiddleware_ClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		want      string
	}{
		{"remote addr", "", "10.0.0.1:54321"},
		{"forwarded", "203.0.113.50", "203.0.113.50"},
		{"forwarded chain", "203.0.113.50, 10.0.0.7", "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/intents", nil)
			req.RemoteAddr = "10.0.0.1:54321"
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			_, entry := logOnce(t, req, http.StatusOK)
			if entry["client_ip"] != tt.want {
				t.Errorf("expected client_ip %s, got %v", tt.want, entry["client_ip"])
			}
		})
	}
}
