package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type mockHTTPRecorder struct {
	mu     sync.Mutex
	calls  int
	method string
	status int
}

func (m *mockHTTPRecorder) RecordHTTPRequest(method string, statusCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.method = method
	m.status = statusCode
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &mockHTTPRecorder{}

	handler := NewLoggingMiddleware(logger, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	}))

	req := browserRequest(http.MethodPost, "/login", "b-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, &buf)
	if entry["method"] != "POST" || entry["path"] != "/login" {
		t.Errorf("entry = %v", entry)
	}
	if entry["status"] != float64(303) {
		t.Errorf("status = %v, want 303", entry["status"])
	}
	if entry["browser_id"] != "b-42" {
		t.Errorf("browser_id = %v, want b-42", entry["browser_id"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms field")
	}
	if rec.calls != 1 || rec.method != "POST" || rec.status != 303 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusForbidden, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		entry := parseLogEntry(t, &buf)
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
		if _, ok := entry["browser_id"]; ok {
			t.Error("browser_id should be absent without browser session middleware")
		}
	}
}

func TestLoggingMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if entry := parseLogEntry(t, &buf); entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

// TestLoggingMiddleware_PreservesFlusher はSSEハンドラーがラップ後もFlusherを利用できることを検証する。
func TestLoggingMiddleware_PreservesFlusher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	flushed := false
	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("wrapped writer should implement http.Flusher")
			return
		}
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			t.Errorf("SetWriteDeadline() error = %v", err)
		}
		w.Write([]byte("data: x\n\n"))
		f.Flush()
		flushed = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session/stream", nil))

	if !flushed || !w.Flushed {
		t.Error("response should be flushed through the logging middleware")
	}
	entry := parseLogEntry(t, &buf)
	if entry["remote_ip"] != "192.0.2.1" {
		t.Errorf("remote_ip = %v, want 192.0.2.1", entry["remote_ip"])
	}
}
