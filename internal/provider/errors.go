package provider

import (
	"errors"
	"fmt"
)

// Kind はプロバイダーエラーの分類。
// アダプター境界で一度だけ決定し、下流でメッセージ文字列を解析しない。
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailNotConfirmed  Kind = "email_not_confirmed"
	KindUserAlreadyExists  Kind = "user_already_exists"
	KindWeakPassword       Kind = "weak_password"
	KindNotAuthenticated   Kind = "not_authenticated"
	KindNotFound           Kind = "not_found"
	KindRateLimited        Kind = "rate_limited"
	KindUnavailable        Kind = "unavailable"
	KindUnknown            Kind = "unknown"
)

// Error はプロバイダー呼び出しの構造化エラー。
type Error struct {
	Kind    Kind
	Code    string // プロバイダー固有のエラーコード（例: "invalid_credentials", "PGRST116"）
	Message string // プロバイダーが返した説明文。表示用であり分類には使わない
	Status  int    // HTTPステータス（HTTP以外の実装では0）
	Cause   error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error { return e.Cause }

// ErrProfileNotFound はプロフィール行が存在しないことを示す。
// エラーではなく「未作成」という正常系の分岐として扱われる。
var ErrProfileNotFound = &Error{Kind: KindNotFound, Code: "profile_not_found", Message: "profile row not found"}

// ErrNoSession はログインセッションが必要な操作をセッションなしで呼び出したことを示す。
var ErrNoSession = &Error{Kind: KindNotAuthenticated, Code: "session_missing", Message: "auth session missing"}

// NewError は構造化エラーを生成する。
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Unavailable は通信障害を表すエラーを生成する。
func Unavailable(cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: "transport", Message: "provider unreachable", Cause: cause}
}

// KindOf はエラーの分類を返す。プロバイダーエラーでない場合はKindUnknown。
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// MessageOf はプロバイダーが返した説明文を返す。
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
