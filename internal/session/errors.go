package session

import (
	"errors"
	"fmt"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// ErrorKind はログイン・登録操作が返すエラーの分類。
type ErrorKind string

const (
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindEmailNotConfirmed   ErrorKind = "email_not_confirmed"
	KindRoleMismatch        ErrorKind = "role_mismatch"
	KindRegistrationError   ErrorKind = "registration_error"
	KindProfileFetchError   ErrorKind = "profile_fetch_error"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
)

// ErrClosed はClose済みのストアに対して操作したことを示す。
var ErrClosed = errors.New("session store closed")

// ErrNotAuthenticated はログインが必要な操作を未ログインで呼び出したことを示す。
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError はLoginとRegisterが返す構造化エラー。
type AuthError struct {
	Kind ErrorKind
	// Expected と Actual はKindRoleMismatchの場合のみ設定される
	Expected model.Role
	Actual   model.Role
	// Reason はプロバイダーが返した説明文
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	switch {
	case e.Kind == KindRoleMismatch:
		return fmt.Sprintf("%s: expected %s, actual %s", e.Kind, e.Expected, e.Actual)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error { return e.Err }

// KindOf はエラーの分類を返す。AuthErrorでない場合は空文字。
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// signInError はサインイン失敗をAuthErrorに変換する。
func signInError(err error) *AuthError {
	ae := &AuthError{Reason: provider.MessageOf(err), Err: err}
	switch provider.KindOf(err) {
	case provider.KindEmailNotConfirmed:
		ae.Kind = KindEmailNotConfirmed
	case provider.KindUnavailable, provider.KindRateLimited:
		ae.Kind = KindProviderUnavailable
	default:
		ae.Kind = KindInvalidCredentials
	}
	return ae
}

// signUpError はサインアップ失敗をAuthErrorに変換する。
func signUpError(err error) *AuthError {
	ae := &AuthError{Kind: KindRegistrationError, Reason: provider.MessageOf(err), Err: err}
	if provider.KindOf(err) == provider.KindUnavailable {
		ae.Kind = KindProviderUnavailable
	}
	return ae
}
