package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/alumniportal/internal/form"
	"github.com/hitoshi/alumniportal/internal/middleware"
	"github.com/hitoshi/alumniportal/internal/session"
)

// 画面上部に表示する通知。クエリパラメータのキーで選ぶため、任意の文字列は表示しない。
var notices = map[string]string{
	"check-email":      "Registration successful! Please check your email to confirm your account before signing in.",
	"confirmed":        "Your email has been confirmed. You can now sign in.",
	"confirm-failed":   "The confirmation link is invalid or has expired. Please try signing in or register again.",
	"signed-out":       "You have been signed out.",
	"password-updated": "Your password has been updated.",
}

func noticeFor(r *http.Request) string {
	return notices[r.URL.Query().Get("notice")]
}

const msgServiceUnavailable = "The sign-in service is temporarily unavailable. Please try again in a moment."

// AuthHandlerConfig は認証画面ハンドラーの設定。
type AuthHandlerConfig struct {
	// SettleTimeout はストアの読み込みとプロバイダー呼び出しを待つ上限
	SettleTimeout time.Duration
	// Now は卒業年の上限計算に使う。nilの場合はtime.Now
	Now func() time.Time
}

// AuthHandler はログイン・登録・ログアウト画面のHTTPハンドラー。
type AuthHandler struct {
	sessionContext
	renderer  *Renderer
	validator *form.Validator
	now       func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(stores SessionStoreFinder, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &AuthHandler{
		sessionContext: sessionContext{stores: stores, settleTimeout: config.SettleTimeout},
		renderer:       renderer,
		validator:      form.NewValidator(now),
		now:            now,
	}
}

// LoginPage はログインフォームを表示する。ログイン済みの場合はダッシュボードへ遷移する。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	if st, err := h.settle(r.Context(), s); err == nil && st.IsAuthenticated {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	h.renderLogin(w, r, http.StatusOK, form.Login{ExpectedRole: "alumni"}, nil)
}

// Login はログインフォームの送信を処理する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	f := form.ParseLogin(r.PostForm)
	if errs := h.validator.ValidateLogin(f); errs != nil {
		h.renderLogin(w, r, http.StatusBadRequest, f, errs)
		return
	}

	s, ok := h.store(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r.Context())
	defer cancel()

	if err := s.Login(ctx, f.Request()); err != nil {
		slog.Warn("login failed",
			slog.String("kind", string(session.KindOf(err))),
			slog.String("expected_role", f.ExpectedRole),
			slog.String("error", err.Error()),
		)
		h.renderLogin(w, r, statusForAuthError(err), f, form.Errors{"email": loginMessage(err)})
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// RegisterPage は登録フォームを表示する。ログイン済みの場合はダッシュボードへ遷移する。
// GET /register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	if st, err := h.settle(r.Context(), s); err == nil && st.IsAuthenticated {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	h.renderRegister(w, r, http.StatusOK, form.Register{Role: "alumni"}, nil, "")
}

// Register は登録フォームの送信を処理する。
// メール確認待ちの場合はログイン画面へ、即時ログインの場合はダッシュボードへ遷移する。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	f := form.ParseRegister(r.PostForm)
	if errs := h.validator.ValidateRegister(f); errs != nil {
		h.renderRegister(w, r, http.StatusBadRequest, f, errs, "")
		return
	}

	s, ok := h.store(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r.Context())
	defer cancel()

	outcome, err := s.Register(ctx, f.Request())
	if err != nil {
		slog.Warn("registration failed",
			slog.String("kind", string(session.KindOf(err))),
			slog.String("error", err.Error()),
		)
		msg := form.RegisterErrorMessage(err)
		if session.KindOf(err) == "" {
			msg = msgServiceUnavailable
		}
		h.renderRegister(w, r, statusForAuthError(err), f, nil, msg)
		return
	}

	slog.Info("account registered", slog.String("outcome", outcome.String()))

	if outcome == session.SessionActive {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login?notice=check-email", http.StatusSeeOther)
}

// Logout はセッションを終了してログイン画面へ遷移する。
// プロバイダーのサインアウトに失敗してもローカルの状態は未ログインになる。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.operationContext(r.Context())
	defer cancel()
	s.Logout(ctx)

	http.Redirect(w, r, "/login?notice=signed-out", http.StatusSeeOther)
}

// Callback はメール確認リンクの遷移先。確認結果をログイン画面に表示する。
// GET /auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("error") != "" || q.Get("error_code") != "" {
		slog.Warn("email confirmation failed",
			slog.String("error", q.Get("error")),
			slog.String("error_code", q.Get("error_code")),
		)
		http.Redirect(w, r, "/login?notice=confirm-failed", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login?notice=confirmed", http.StatusSeeOther)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, f form.Login, errs form.Errors) {
	f.Password = ""
	h.renderer.Render(w, status, pageLogin, pageData{
		Title:     "Sign In",
		CSRFField: middleware.CSRFFormField,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Notice:    noticeFor(r),
		Errors:    errs,
		Login:     f,
	})
}

func (h *AuthHandler) renderRegister(w http.ResponseWriter, r *http.Request, status int, f form.Register, errs form.Errors, formErr string) {
	f.Password = ""
	f.ConfirmPassword = ""
	h.renderer.Render(w, status, pageRegister, pageData{
		Title:             "Create Account",
		CSRFField:         middleware.CSRFFormField,
		CSRFToken:         middleware.CSRFTokenFromContext(r.Context()),
		Error:             formErr,
		Errors:            errs,
		Register:          f,
		MaxGraduationYear: h.now().Year() + 6,
	})
}

// loginMessage はログイン失敗の表示メッセージを返す。
// セッション層の分類を持たないエラー（タイムアウト・停止中）はサービス停止として扱う。
func loginMessage(err error) string {
	if session.KindOf(err) == "" {
		return msgServiceUnavailable
	}
	return form.LoginErrorMessage(err)
}

// statusForAuthError はログイン・登録失敗をHTTPステータスに変換する。
func statusForAuthError(err error) int {
	switch session.KindOf(err) {
	case session.KindInvalidCredentials, session.KindEmailNotConfirmed, session.KindRoleMismatch:
		return http.StatusUnauthorized
	case session.KindRegistrationError:
		return http.StatusBadRequest
	case session.KindProfileFetchError:
		return http.StatusBadGateway
	case session.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, session.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
