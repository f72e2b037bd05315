package form

import (
	"net/url"
	"strings"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/session"
)

// Login はログインフォームの入力。
type Login struct {
	Email        string `validate:"required,email"`
	Password     string `validate:"required"`
	ExpectedRole string `validate:"omitempty,oneof=alumni admin"`
}

var loginLabels = map[string]string{
	"email":         "Email",
	"password":      "Password",
	"expected_role": "Account type",
}

// ParseLogin はPOSTされたフォーム値からLoginを組み立てる。
// アカウント種別が未選択の場合は卒業生として扱う。
func ParseLogin(values url.Values) Login {
	f := Login{
		Email:        strings.ToLower(field(values, "email")),
		Password:     values.Get("password"),
		ExpectedRole: field(values, "expected_role"),
	}
	if f.ExpectedRole == "" {
		f.ExpectedRole = string(model.RoleAlumni)
	}
	return f
}

// ValidateLogin はログインフォームを検証する。問題がなければnilを返す。
func (v *Validator) ValidateLogin(f Login) Errors {
	return v.check(f, loginLabels, map[string]string{
		"email.email": "Email is invalid",
	})
}

// Request はセッションストアに渡すログイン要求に変換する。
func (f Login) Request() session.LoginRequest {
	return session.LoginRequest{
		Email:        f.Email,
		Password:     f.Password,
		ExpectedRole: model.Role(f.ExpectedRole),
	}
}
