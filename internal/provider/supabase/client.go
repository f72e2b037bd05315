// Package supabase はGoTrue（/auth/v1）とPostgREST（/rest/v1）互換の
// 外部認証・ストレージサービスに対するクライアントを提供する。
// ブラウザごとにClientを生成し、セッションはTokenStorageに永続化する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/alumniportal/internal/provider"
)

// maxErrorBodySize はエラーレスポンスとして読み取るボディの上限。
const maxErrorBodySize = 64 * 1024

// defaultPersistTTL はセッション永続化の既定保持期間。
const defaultPersistTTL = 24 * time.Hour

// TokenStorage はセッションの永続化先。
// repository.TokenRepository が満たす。
type TokenStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
}

// Config はクライアントの設定。
type Config struct {
	// URL はプロジェクトのベースURL（例: https://xyz.supabase.co）。
	URL string
	// AnonKey は公開APIキー。apikeyヘッダーと未ログイン時のBearerに使う。
	AnonKey string
	// JWTSecret が設定されている場合、アクセストークンの署名を検証する。
	JWTSecret []byte
	// HTTPClient はリクエストに使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
	// Storage はセッションの永続化先。nilの場合は永続化しない。
	Storage TokenStorage
	// PersistTTL は永続化したセッションの保持期間。
	PersistTTL time.Duration
	// Now は現在時刻の取得関数。テストで差し替える。
	Now    func() time.Time
	Logger *slog.Logger
}

// Factory は設定を共有し、ブラウザ単位のClientを生成する。
type Factory struct {
	cfg  Config
	base *url.URL
}

// NewFactory はFactoryを生成する。URLとAnonKeyは必須。
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("supabase anon key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse supabase URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.PersistTTL <= 0 {
		cfg.PersistTTL = defaultPersistTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg, base: base}, nil
}

// NewClient はブラウザセッションIDに対応するClientを生成する。
// 永続化済みのセッションは初回のGetSessionで読み込む。
func (f *Factory) NewClient(browserID string) *Client {
	return &Client{f: f, key: browserID}
}

// apiError はGoTrueとPostgRESTのエラーレスポンスを両方受けるための構造体。
type apiError struct {
	Code             json.RawMessage `json:"code"` // GoTrueは数値、PostgRESTは文字列
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (e *apiError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	var s string
	if len(e.Code) > 0 && json.Unmarshal(e.Code, &s) == nil && s != "" {
		return s
	}
	return e.Error
}

func (e *apiError) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

// request は1回分のHTTP呼び出しの内容。
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	bearer  string
	headers map[string]string
}

// do はリクエストを送信し、2xxの場合にoutへJSONをデコードする。
// それ以外のステータスはprovider.Errorに分類して返す。
func (f *Factory) do(ctx context.Context, r request, out any) error {
	u := *f.base
	u.Path = f.base.Path + r.path
	if r.query != nil {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", f.cfg.AnonKey)
	bearer := r.bearer
	if bearer == "" {
		bearer = f.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		f.cfg.Logger.Warn("認証プロバイダーへのリクエストに失敗しました",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return provider.Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return classify(resp.StatusCode, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify はHTTPステータスとエラーコードからエラー種別を決定する。
// メッセージ本文は分類に使わない。
func classify(status int, raw []byte) *provider.Error {
	var body apiError
	_ = json.Unmarshal(raw, &body)

	e := &provider.Error{
		Code:    body.code(),
		Message: body.message(),
		Status:  status,
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	switch {
	case status >= 500:
		e.Kind = provider.KindUnavailable
	case status == http.StatusTooManyRequests:
		e.Kind = provider.KindRateLimited
	default:
		e.Kind = kindForCode(e.Code, status)
	}
	return e
}

func kindForCode(code string, status int) provider.Kind {
	switch code {
	case "invalid_credentials", "invalid_grant":
		return provider.KindInvalidCredentials
	case "email_not_confirmed":
		return provider.KindEmailNotConfirmed
	case "user_already_exists", "email_exists":
		return provider.KindUserAlreadyExists
	case "weak_password":
		return provider.KindWeakPassword
	case "PGRST116":
		return provider.KindNotFound
	case "over_request_rate_limit", "over_email_send_rate_limit":
		return provider.KindRateLimited
	case "bad_jwt", "session_not_found", "session_expired", "refresh_token_not_found",
		"refresh_token_already_used", "no_authorization", "user_not_found":
		return provider.KindNotAuthenticated
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return provider.KindNotAuthenticated
	}
	return provider.KindUnknown
}
