package form

import (
	"net/url"
	"strings"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/session"
)

// Register はアカウント登録フォームの入力。
type Register struct {
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
	FirstName       string `validate:"required,max=100"`
	LastName        string `validate:"required,max=100"`
	Role            string `validate:"required,oneof=alumni admin"`
	GraduationYear  int    `validate:"required,gradyear"`
	Course          string `validate:"required,max=200"`
	PhoneNumber     string `validate:"omitempty,phone"`
}

var registerLabels = map[string]string{
	"email":            "Email",
	"password":         "Password",
	"confirm_password": "Confirm password",
	"first_name":       "First name",
	"last_name":        "Last name",
	"role":             "Account type",
	"graduation_year":  "Graduation year",
	"course":           "Course",
	"phone_number":     "Phone number",
}

// ParseRegister はPOSTされたフォーム値からRegisterを組み立てる。
func ParseRegister(values url.Values) Register {
	f := Register{
		Email:           strings.ToLower(field(values, "email")),
		Password:        values.Get("password"),
		ConfirmPassword: values.Get("confirm_password"),
		FirstName:       field(values, "first_name"),
		LastName:        field(values, "last_name"),
		Role:            field(values, "role"),
		GraduationYear:  intField(values, "graduation_year"),
		Course:          field(values, "course"),
		PhoneNumber:     field(values, "phone_number"),
	}
	if f.Role == "" {
		f.Role = string(model.RoleAlumni)
	}
	return f
}

// ValidateRegister は登録フォームを検証する。問題がなければnilを返す。
func (v *Validator) ValidateRegister(f Register) Errors {
	return v.check(f, registerLabels, map[string]string{
		"email.email":              "Email is invalid",
		"confirm_password.eqfield": "Passwords do not match",
		"graduation_year.gradyear": "Graduation year is out of range",
		"phone_number.phone":       "Phone number is invalid",
		"role.oneof":               "Please select a valid account type",
	})
}

// Request はセッションストアに渡す登録要求に変換する。
func (f Register) Request() session.RegisterRequest {
	return session.RegisterRequest{
		Email:           f.Email,
		Password:        f.Password,
		ConfirmPassword: f.ConfirmPassword,
		FirstName:       f.FirstName,
		LastName:        f.LastName,
		Role:            model.Role(f.Role),
		GraduationYear:  f.GraduationYear,
		Course:          f.Course,
		PhoneNumber:     f.PhoneNumber,
	}
}
