// Package memory はプロセス内で完結する認証・ストレージプロバイダーを提供する。
// ローカル開発（PROVIDER=memory）とテストで外部サービスの代わりに使う。
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// Op は障害注入の対象となるバックエンド操作。
type Op string

const (
	OpSignIn         Op = "sign_in"
	OpSignUp         Op = "sign_up"
	OpSignOut        Op = "sign_out"
	OpRefresh        Op = "refresh"
	OpUpdatePassword Op = "update_password"
	OpGetProfile     Op = "get_profile"
	OpInsertProfile  Op = "insert_profile"
)

// defaultTokenTTL はアクセストークンの既定有効期間。
const defaultTokenTTL = time.Hour

// minPasswordLength はプロバイダー側で要求するパスワード長。
const minPasswordLength = 6

// BackendConfig はBackendの設定。
type BackendConfig struct {
	// Secret はアクセストークンの署名鍵。空の場合はランダムに生成する。
	Secret []byte
	// RequireConfirmation がtrueの場合、サインアップ後はメール確認までセッションを発行しない。
	RequireConfirmation bool
	// TokenTTL はアクセストークンの有効期間。
	TokenTTL time.Duration
	// BcryptCost はパスワードハッシュのコスト。0の場合はbcrypt.DefaultCost。
	BcryptCost int
	// Now は現在時刻の取得関数。テストで差し替える。
	Now func() time.Time
}

type account struct {
	identity     provider.Identity
	passwordHash []byte
}

// Backend は全ブラウザで共有されるアカウントとプロフィールの保存先。
type Backend struct {
	mu       sync.Mutex
	cfg      BackendConfig
	accounts map[string]*account // email -> account
	byID     map[string]*account
	profiles map[string]model.Profile
	refresh  map[string]string // refresh token -> identity id
	faults   map[Op]error
	clients  map[string]*Client
}

// NewBackend は新しいBackendを生成する。
func NewBackend(cfg BackendConfig) *Backend {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(randomToken())
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Backend{
		cfg:      cfg,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		profiles: make(map[string]model.Profile),
		refresh:  make(map[string]string),
		faults:   make(map[Op]error),
		clients:  make(map[string]*Client),
	}
}

// NewClient はブラウザ単位のクライアントを生成する。
func (b *Backend) NewClient() *Client {
	return &Client{backend: b}
}

// ClientFor はブラウザセッションIDに対応するクライアントを返す。
// 同じIDには同じクライアントを返すため、ストアを作り直してもログイン状態が残る。
func (b *Backend) ClientFor(browserID string) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[browserID]
	if !ok {
		c = b.NewClient()
		b.clients[browserID] = c
	}
	return c
}

// InjectFault は指定操作が次回以降errを返すように設定する。errがnilなら解除する。
func (b *Backend) InjectFault(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

// CreateAccount は確認済みアカウントを直接作成する。シードデータとテストで使う。
// パスワードポリシーは適用しない。profileがnilでなければプロフィール行も作成する。
func (b *Backend) CreateAccount(email, password string, profile *model.Profile) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	acc, err := b.addAccountLocked(normalizeEmail(email), hash)
	if err != nil {
		return "", err
	}
	now := b.cfg.Now()
	acc.identity.EmailConfirmedAt = &now

	if profile != nil {
		p := *profile
		p.ID = acc.identity.ID
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		b.profiles[p.ID] = p
	}
	return acc.identity.ID, nil
}

// ConfirmEmail はメールアドレスを確認済みにする。確認メールのリンク踏破に相当する。
func (b *Backend) ConfirmEmail(email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok {
		return provider.NewError(provider.KindNotFound, "user_not_found", "User not found")
	}
	now := b.cfg.Now()
	acc.identity.EmailConfirmedAt = &now
	return nil
}

// Profile は保存済みのプロフィール行を返す。
func (b *Backend) Profile(id string) (model.Profile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	return p, ok
}

// DeleteProfile はプロフィール行を削除する。プロフィール未作成の状態を再現するテスト用。
func (b *Backend) DeleteProfile(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.profiles, id)
}

func (b *Backend) fault(op Op) error {
	return b.faults[op]
}

func (b *Backend) signIn(_ context.Context, email, password string) (*provider.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpSignIn); err != nil {
		return nil, err
	}
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) != nil {
		return nil, provider.NewError(provider.KindInvalidCredentials, "invalid_credentials", "Invalid login credentials")
	}
	if acc.identity.EmailConfirmedAt == nil {
		return nil, provider.NewError(provider.KindEmailNotConfirmed, "email_not_confirmed", "Email not confirmed")
	}
	return b.issueLocked(acc.identity)
}

func (b *Backend) signUp(_ context.Context, email, password string) (*provider.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, provider.NewError(provider.KindUnknown, "validation_failed", "Email is required")
	}
	if len(password) < minPasswordLength {
		return nil, provider.NewError(provider.KindWeakPassword, "weak_password",
			fmt.Sprintf("Password should be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpSignUp); err != nil {
		return nil, err
	}
	acc, err := b.addAccountLocked(email, hash)
	if err != nil {
		return nil, err
	}
	ident := acc.identity
	return &ident, nil
}

func (b *Backend) addAccountLocked(email string, hash []byte) (*account, error) {
	if _, exists := b.accounts[email]; exists {
		return nil, provider.NewError(provider.KindUserAlreadyExists, "user_already_exists", "User already registered")
	}
	acc := &account{
		identity: provider.Identity{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: b.cfg.Now(),
		},
		passwordHash: hash,
	}
	b.accounts[email] = acc
	b.byID[acc.identity.ID] = acc
	return acc, nil
}

// signUpSession はサインアップ直後に発行するセッションを返す。確認が必要な場合はnil。
func (b *Backend) signUpSession(ident *provider.Identity) (*provider.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.RequireConfirmation {
		return nil, nil
	}
	acc := b.byID[ident.ID]
	now := b.cfg.Now()
	acc.identity.EmailConfirmedAt = &now
	*ident = acc.identity
	return b.issueLocked(acc.identity)
}

func (b *Backend) signOut(_ context.Context, refreshToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.refresh, refreshToken)
	return b.fault(OpSignOut)
}

func (b *Backend) refreshSession(_ context.Context, refreshToken string) (*provider.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpRefresh); err != nil {
		return nil, err
	}
	id, ok := b.refresh[refreshToken]
	if !ok {
		return nil, provider.NewError(provider.KindNotAuthenticated, "refresh_token_not_found", "Invalid Refresh Token")
	}
	delete(b.refresh, refreshToken)
	acc, ok := b.byID[id]
	if !ok {
		return nil, provider.NewError(provider.KindNotAuthenticated, "user_not_found", "User not found")
	}
	return b.issueLocked(acc.identity)
}

func (b *Backend) updatePassword(_ context.Context, accessToken, newPassword string) error {
	claims, err := provider.ParseAccessToken(accessToken, b.cfg.Secret)
	if err != nil {
		return provider.NewError(provider.KindNotAuthenticated, "bad_jwt", "invalid JWT")
	}
	if len(newPassword) < minPasswordLength {
		return provider.NewError(provider.KindWeakPassword, "weak_password",
			fmt.Sprintf("Password should be at least %d characters", minPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), b.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpUpdatePassword); err != nil {
		return err
	}
	acc, ok := b.byID[claims.Subject]
	if !ok {
		return provider.NewError(provider.KindNotAuthenticated, "user_not_found", "User not found")
	}
	acc.passwordHash = hash
	return nil
}

func (b *Backend) getProfile(_ context.Context, id string) (*model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpGetProfile); err != nil {
		return nil, err
	}
	p, ok := b.profiles[id]
	if !ok {
		return nil, provider.ErrProfileNotFound
	}
	return &p, nil
}

func (b *Backend) insertProfile(_ context.Context, p *model.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fault(OpInsertProfile); err != nil {
		return err
	}
	if _, ok := b.byID[p.ID]; !ok {
		return provider.NewError(provider.KindUnknown, "23503", "profiles.id must reference an existing user")
	}
	if _, exists := b.profiles[p.ID]; exists {
		return provider.NewError(provider.KindUnknown, "23505", "duplicate key value violates unique constraint \"profiles_pkey\"")
	}
	row := *p
	if row.CreatedAt.IsZero() {
		row.CreatedAt = b.cfg.Now()
	}
	b.profiles[p.ID] = row
	return nil
}

// issueLocked はセッションを発行する。b.muを保持した状態で呼ぶこと。
func (b *Backend) issueLocked(ident provider.Identity) (*provider.Session, error) {
	now := b.cfg.Now()
	access, err := provider.SignAccessToken(b.cfg.Secret, ident.ID, ident.Email, now, b.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	refresh := randomToken()
	b.refresh[refresh] = ident.ID
	return &provider.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(b.cfg.TokenTTL).Truncate(time.Second),
		User:         ident,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(buf)
}
