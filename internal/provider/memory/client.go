package memory

import (
	"context"
	"sync"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// compile-time interface check
var _ provider.Provider = (*Client)(nil)

// Client は1ブラウザ分のセッションを保持するクライアント。
// 通知はセッション更新後、ロックの外で同期的に配信する。
type Client struct {
	backend   *Backend
	listeners provider.Listeners

	mu      sync.Mutex
	session *provider.Session
}

// GetSession は現在のセッションを返す。アクセストークンが失効していればリフレッシュする。
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if !current.Expired(c.backend.cfg.Now()) {
		s := *current
		return &s, nil
	}

	refreshed, err := c.backend.refreshSession(ctx, current.RefreshToken)
	if err != nil {
		if provider.KindOf(err) == provider.KindUnavailable {
			return nil, err
		}
		c.replace(nil, provider.EventSignedOut)
		return nil, nil
	}
	c.replace(refreshed, provider.EventTokenRefreshed)
	s := *refreshed
	return &s, nil
}

// OnAuthStateChange はセッション変更通知を購読する。
func (c *Client) OnAuthStateChange(listener provider.Listener) func() {
	return c.listeners.Add(listener)
}

// SignInWithPassword はメールアドレスとパスワードで認証する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	s, err := c.backend.signIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.replace(s, provider.EventSignedIn)
	out := *s
	return &out, nil
}

// SignUp はアカウントを作成する。メール確認が不要な設定ではセッションも発行する。
func (c *Client) SignUp(ctx context.Context, email, password, _ string) (*provider.SignUpResult, error) {
	ident, err := c.backend.signUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s, err := c.backend.signUpSession(ident)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &provider.SignUpResult{User: ident}, nil
	}
	c.replace(s, provider.EventSignedIn)
	out := *s
	return &provider.SignUpResult{User: ident, Session: &out}, nil
}

// SignOut はセッションを終了する。バックエンドがエラーを返してもローカルのセッションは破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	err := c.backend.signOut(ctx, current.RefreshToken)
	c.replace(nil, provider.EventSignedOut)
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
	if err := c.backend.updatePassword(ctx, s.AccessToken, newPassword); err != nil {
		return err
	}
	c.listeners.Emit(provider.ChangeEvent{Event: provider.EventUserUpdated, Session: s})
	return nil
}

// GetProfile はプロフィール行を取得する。
func (c *Client) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return c.backend.getProfile(ctx, id)
}

// InsertProfile はプロフィール行を作成する。
func (c *Client) InsertProfile(ctx context.Context, p *model.Profile) error {
	return c.backend.insertProfile(ctx, p)
}

func (c *Client) replace(s *provider.Session, ev provider.AuthEvent) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	var snapshot *provider.Session
	if s != nil {
		cp := *s
		snapshot = &cp
	}
	c.listeners.Emit(provider.ChangeEvent{Event: ev, Session: snapshot})
}
