// Package provider は外部の認証・データストレージサービス（BaaS）との境界を定義する。
// ブラウザごとのクライアントがこのインターフェースを実装し、
// セッションストアはこの契約だけに依存する。
package provider

import (
	"context"
	"time"

	"github.com/hitoshi/alumniportal/internal/model"
)

// Identity は認証プロバイダーが管理する認証主体を表す。
// ポータル側は読み取り専用のコピーとして保持する。
type Identity struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session はプロバイダーが発行した有効なログインセッションを表す。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired は指定時刻の時点でアクセストークンが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignUpResult はアカウント作成の結果。
// メール確認が必要な場合はSessionがnilになる。
type SignUpResult struct {
	User    *Identity
	Session *Session
}

// AuthEvent はセッション変更通知の種別。
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// ChangeEvent はプロバイダーから配信されるセッション変更通知。
// Sessionがnilの場合はセッションが破棄されたことを示す。
type ChangeEvent struct {
	Event   AuthEvent
	Session *Session
}

// Listener はセッション変更通知のコールバック。
// 実装はブロックしてはならない。
type Listener func(ChangeEvent)

// Provider は外部認証・ストレージサービスのクライアント契約。
// 1インスタンスが1ブラウザセッションに対応する。
type Provider interface {
	// GetSession は現在のセッションを返す。未ログインの場合はnilを返す。
	GetSession(ctx context.Context) (*Session, error)

	// OnAuthStateChange はセッション変更通知を購読する。
	// 戻り値の関数で購読を解除する。
	OnAuthStateChange(listener Listener) (unsubscribe func())

	// SignInWithPassword はメールアドレスとパスワードで認証する。
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp はアカウントを作成する。redirectToはメール確認後の遷移先。
	SignUp(ctx context.Context, email, password, redirectTo string) (*SignUpResult, error)

	// SignOut はセッションを終了する。リモート呼び出しが失敗してもローカルのセッションは破棄される。
	SignOut(ctx context.Context) error

	// UpdatePassword はログイン中ユーザーのパスワードを変更する。
	UpdatePassword(ctx context.Context, newPassword string) error

	// GetProfile はIdentity IDに対応するプロフィール行を取得する。
	// 行が存在しない場合はErrProfileNotFoundを返す。
	GetProfile(ctx context.Context, id string) (*model.Profile, error)

	// InsertProfile はプロフィール行を作成する。
	InsertProfile(ctx context.Context, profile *model.Profile) error
}
