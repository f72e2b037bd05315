package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/alumniportal/internal/dashboard"
	"github.com/hitoshi/alumniportal/internal/form"
	"github.com/hitoshi/alumniportal/internal/middleware"
	"github.com/hitoshi/alumniportal/internal/provider"
	"github.com/hitoshi/alumniportal/internal/session"
)

// DashboardHandler はログイン後の画面のHTTPハンドラー。
type DashboardHandler struct {
	sessionContext
	renderer  *Renderer
	validator *form.Validator
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(stores SessionStoreFinder, renderer *Renderer, settleTimeout time.Duration) *DashboardHandler {
	return &DashboardHandler{
		sessionContext: sessionContext{stores: stores, settleTimeout: settleTimeout},
		renderer:       renderer,
		validator:      form.NewValidator(time.Now),
	}
}

// requireUser はストアの読み込み完了を待ち、ログイン済みの状態を返す。
// 未ログインの場合はログイン画面へリダイレクトしてfalseを返す。
func (h *DashboardHandler) requireUser(w http.ResponseWriter, r *http.Request) (SessionStore, session.State, bool) {
	s, ok := h.store(w, r)
	if !ok {
		return nil, session.State{}, false
	}

	st, err := h.settle(r.Context(), s)
	if err != nil {
		slog.Warn("session did not settle",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.renderer.Render(w, http.StatusServiceUnavailable, pageError, pageData{
			Title: "Service Unavailable",
			Error: msgServiceUnavailable,
		})
		return nil, session.State{}, false
	}

	if !st.IsAuthenticated || st.User == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return nil, session.State{}, false
	}
	return s, st, true
}

// Dashboard はロールに応じたメニューと選択中のタブを表示する。
// GET /dashboard?tab=
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	_, st, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, st, r.URL.Query().Get("tab"), nil)
}

// ChangePassword はパスワード変更フォームの送信を処理する。
// POST /settings/password
func (h *DashboardHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	s, st, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	f := form.ParsePasswordChange(r.PostForm)
	if errs := h.validator.ValidatePasswordChange(f); errs != nil {
		h.render(w, r, http.StatusBadRequest, st, string(dashboard.TabSettings), errs)
		return
	}

	ctx, cancel := h.operationContext(r.Context())
	defer cancel()

	if err := s.ChangePassword(ctx, f.NewPassword); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		slog.Warn("password update failed",
			slog.String("user_id", st.User.ID),
			slog.String("error", err.Error()),
		)
		status, msg := http.StatusBadRequest, provider.MessageOf(err)
		if provider.KindOf(err) == provider.KindUnavailable {
			status, msg = http.StatusServiceUnavailable, msgServiceUnavailable
		}
		h.render(w, r, status, st, string(dashboard.TabSettings), form.Errors{"new_password": msg})
		return
	}

	slog.Info("password updated", slog.String("user_id", st.User.ID))
	http.Redirect(w, r, "/dashboard?tab=settings&notice=password-updated", http.StatusSeeOther)
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request, status int, st session.State, tab string, errs form.Errors) {
	view := dashboard.Select(st.User.Role, tab)
	h.renderer.Render(w, status, pageDashboard, pageData{
		Title:     view.Title,
		CSRFField: middleware.CSRFFormField,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Notice:    noticeFor(r),
		Errors:    errs,
		User:      st.User,
		View:      view,
	})
}
