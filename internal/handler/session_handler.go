package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/alumniportal/internal/middleware"
)

// SessionHandler はセッション状態を参照するAPIのハンドラー。
type SessionHandler struct {
	sessionContext
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(stores SessionStoreFinder, settleTimeout time.Duration) *SessionHandler {
	return &SessionHandler{sessionContext: sessionContext{stores: stores, settleTimeout: settleTimeout}}
}

// Session は現在のセッション状態を返す。
// wait=1の場合は読み込み完了まで待ってから返す。
// GET /api/session
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}

	st := s.Snapshot()
	if r.URL.Query().Get("wait") == "1" {
		settled, err := h.settle(r.Context(), s)
		if err != nil {
			slog.Warn("session did not settle", slog.String("error", err.Error()))
		}
		st = settled
	}

	middleware.WriteJSON(w, http.StatusOK, st)
}

// Stream はセッション状態が置き換わるたびにServer-Sent Eventsで通知する。
// 接続直後に現在の状態を1件送る。
// GET /api/session/stream
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// サーバーの書き込みタイムアウトで切断されないよう解除する
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.Watch()
	defer unsubscribe()

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(st)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: session\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// HealthChecker は依存先の疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして扱うアダプタ。
type HealthCheckFunc func(ctx context.Context) error

// PingContext はfを呼び出す。
func (f HealthCheckFunc) PingContext(ctx context.Context) error { return f(ctx) }

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// checkerがnilの場合は常に正常を返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}

		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
