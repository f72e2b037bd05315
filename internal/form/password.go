package form

import "net/url"

// PasswordChange はパスワード変更フォームの入力。
type PasswordChange struct {
	NewPassword     string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword"`
}

var passwordLabels = map[string]string{
	"new_password":     "New password",
	"confirm_password": "Confirm password",
}

// ParsePasswordChange はPOSTされたフォーム値からPasswordChangeを組み立てる。
func ParsePasswordChange(values url.Values) PasswordChange {
	return PasswordChange{
		NewPassword:     values.Get("new_password"),
		ConfirmPassword: values.Get("confirm_password"),
	}
}

// ValidatePasswordChange はパスワード変更フォームを検証する。
func (v *Validator) ValidatePasswordChange(f PasswordChange) Errors {
	return v.check(f, passwordLabels, map[string]string{
		"confirm_password.eqfield": "Passwords do not match",
	})
}
