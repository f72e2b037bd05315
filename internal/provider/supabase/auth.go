package supabase

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/alumniportal/internal/provider"
)

// compile-time interface check
var _ provider.Provider = (*Client)(nil)

// Client は1ブラウザ分のセッションを保持するクライアント。
type Client struct {
	f         *Factory
	key       string
	listeners provider.Listeners

	// opMu はセッションの読み込みとリフレッシュを直列化する。
	opMu sync.Mutex

	mu      sync.Mutex
	loaded  bool
	session *provider.Session
}

// tokenResponse は/auth/v1/tokenと/auth/v1/signupのレスポンス。
type tokenResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	ExpiresIn    int64              `json:"expires_in"`
	ExpiresAt    int64              `json:"expires_at"`
	User         *provider.Identity `json:"user"`
}

func (c *Client) toSession(tr *tokenResponse) (*provider.Session, error) {
	if tr.User == nil {
		return nil, provider.NewError(provider.KindUnknown, "unexpected_response", "token response has no user")
	}
	if len(c.f.cfg.JWTSecret) > 0 {
		if _, err := provider.ParseAccessToken(tr.AccessToken, c.f.cfg.JWTSecret); err != nil {
			return nil, provider.NewError(provider.KindNotAuthenticated, "bad_jwt", err.Error())
		}
	}

	// 有効期限はexpクレームを優先し、読めなければレスポンスのフィールドを使う
	expiresAt := provider.ExpiryOf(tr.AccessToken)
	if expiresAt.IsZero() {
		switch {
		case tr.ExpiresAt > 0:
			expiresAt = time.Unix(tr.ExpiresAt, 0)
		case tr.ExpiresIn > 0:
			expiresAt = c.f.cfg.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
		}
	}
	return &provider.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         *tr.User,
	}, nil
}

// GetSession は現在のセッションを返す。
// 初回は永続化済みのセッションを読み込み、アクセストークンが失効していればリフレッシュする。
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if !current.Expired(c.f.cfg.Now()) {
		s := *current
		return &s, nil
	}

	var tr tokenResponse
	err := c.f.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": current.RefreshToken},
	}, &tr)
	if err != nil {
		if provider.KindOf(err) == provider.KindUnavailable {
			return nil, err
		}
		c.f.cfg.Logger.Info("セッションのリフレッシュに失敗したためサインアウトします",
			slog.String("browser_id", c.key),
			slog.String("error", err.Error()),
		)
		c.replace(ctx, nil, provider.EventSignedOut)
		return nil, nil
	}

	refreshed, err := c.toSession(&tr)
	if err != nil {
		c.replace(ctx, nil, provider.EventSignedOut)
		return nil, nil
	}
	c.replace(ctx, refreshed, provider.EventTokenRefreshed)
	s := *refreshed
	return &s, nil
}

// loadLocked は永続化済みのセッションを一度だけ読み込む。opMuを保持した状態で呼ぶこと。
func (c *Client) loadLocked(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded || c.f.cfg.Storage == nil {
		c.markLoaded()
		return nil
	}

	payload, err := c.f.cfg.Storage.Load(ctx, c.key)
	if err != nil {
		return provider.Unavailable(err)
	}
	if payload != nil {
		var s provider.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			c.f.cfg.Logger.Warn("永続化されたセッションを破棄します",
				slog.String("browser_id", c.key),
				slog.String("error", err.Error()),
			)
		} else {
			c.mu.Lock()
			if c.session == nil {
				c.session = &s
			}
			c.mu.Unlock()
		}
	}
	c.markLoaded()
	return nil
}

func (c *Client) markLoaded() {
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
}

// OnAuthStateChange はセッション変更通知を購読する。
func (c *Client) OnAuthStateChange(listener provider.Listener) func() {
	return c.listeners.Add(listener)
}

// SignInWithPassword はメールアドレスとパスワードで認証する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	var tr tokenResponse
	err := c.f.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		return nil, err
	}
	s, err := c.toSession(&tr)
	if err != nil {
		return nil, err
	}
	c.markLoaded()
	c.replace(ctx, s, provider.EventSignedIn)
	out := *s
	return &out, nil
}

// SignUp はアカウントを作成する。
// メール確認が有効な場合、レスポンスはユーザーのみでセッションを含まない。
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*provider.SignUpResult, error) {
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}

	var raw json.RawMessage
	err := c.f.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		query:  query,
		body:   map[string]string{"email": email, "password": password},
	}, &raw)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, provider.NewError(provider.KindUnknown, "unexpected_response", err.Error())
	}
	if tr.AccessToken == "" {
		var ident provider.Identity
		if err := json.Unmarshal(raw, &ident); err != nil || ident.ID == "" {
			return nil, provider.NewError(provider.KindUnknown, "unexpected_response", "signup response has no user")
		}
		return &provider.SignUpResult{User: &ident}, nil
	}

	s, err := c.toSession(&tr)
	if err != nil {
		return nil, err
	}
	c.markLoaded()
	c.replace(ctx, s, provider.EventSignedIn)
	out := *s
	ident := s.User
	return &provider.SignUpResult{User: &ident, Session: &out}, nil
}

// SignOut はセッションを終了する。リモート呼び出しの成否に関わらずローカルのセッションは破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	c.opMu.Lock()
	loadErr := c.loadLocked(ctx)
	c.opMu.Unlock()

	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	var err error
	if current != nil {
		err = c.f.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: current.AccessToken,
		}, nil)
		// 失効済みセッションのサインアウトは成功として扱う
		if provider.KindOf(err) == provider.KindNotAuthenticated {
			err = nil
		}
	}
	if current != nil || loadErr != nil {
		c.replace(ctx, nil, provider.EventSignedOut)
	}
	if err == nil {
		err = loadErr
	}
	return err
}

// UpdatePassword はログイン中ユーザーのパスワードを変更する。
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	s, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return provider.ErrNoSession
	}

	var ident provider.Identity
	err = c.f.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		body:   map[string]string{"password": newPassword},
		bearer: s.AccessToken,
	}, &ident)
	if err != nil {
		return err
	}
	if ident.ID != "" {
		s.User = ident
	}
	c.replace(ctx, s, provider.EventUserUpdated)
	return nil
}

// replace はセッションを差し替えて永続化し、購読者に通知する。
func (c *Client) replace(ctx context.Context, s *provider.Session, ev provider.AuthEvent) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.persist(ctx, s)

	var snapshot *provider.Session
	if s != nil {
		cp := *s
		snapshot = &cp
	}
	c.listeners.Emit(provider.ChangeEvent{Event: ev, Session: snapshot})
}

// persist はセッションを保存する。失敗してもメモリ上のセッションは有効なのでログのみ記録する。
func (c *Client) persist(ctx context.Context, s *provider.Session) {
	storage := c.f.cfg.Storage
	if storage == nil {
		return
	}

	// 呼び出し元がキャンセル済みでも保存は完了させる
	ctx = context.WithoutCancel(ctx)

	var err error
	if s == nil {
		err = storage.Delete(ctx, c.key)
	} else {
		var payload []byte
		payload, err = json.Marshal(s)
		if err == nil {
			err = storage.Save(ctx, c.key, payload, c.f.cfg.Now().Add(c.f.cfg.PersistTTL))
		}
	}
	if err != nil {
		c.f.cfg.Logger.Error("セッションの永続化に失敗しました",
			slog.String("browser_id", c.key),
			slog.String("error", err.Error()),
		)
	}
}
