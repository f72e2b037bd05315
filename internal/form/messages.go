package form

import (
	"errors"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/session"
)

const msgUnavailable = "The sign-in service is temporarily unavailable. Please try again in a moment."

// LoginErrorMessage はログイン失敗を画面表示用のメッセージに変換する。
// 分類はセッションストアが返すエラー種別のみで判断する。
func LoginErrorMessage(err error) string {
	var ae *session.AuthError
	if !errors.As(err, &ae) {
		return "Invalid email or password"
	}

	switch ae.Kind {
	case session.KindEmailNotConfirmed:
		return "Please check your email and confirm your account before signing in."
	case session.KindInvalidCredentials:
		return "Invalid email or password. Please check your credentials."
	case session.KindRoleMismatch:
		return "This account is not registered as " + roleArticle(ae.Expected) + ". Please select the correct account type."
	case session.KindProfileFetchError:
		return "We could not load your profile. Please try again."
	case session.KindProviderUnavailable:
		return msgUnavailable
	}
	return "Invalid email or password"
}

// RegisterErrorMessage は登録失敗を画面表示用のメッセージに変換する。
func RegisterErrorMessage(err error) string {
	var ae *session.AuthError
	if errors.As(err, &ae) {
		switch {
		case ae.Kind == session.KindProviderUnavailable:
			return msgUnavailable
		case ae.Reason != "":
			return ae.Reason
		}
	}
	return "Registration failed. Please try again."
}

func roleArticle(r model.Role) string {
	if r == model.RoleAdmin {
		return "an administrator"
	}
	return "an alumni"
}
