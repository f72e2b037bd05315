// Package form はログイン・登録・パスワード変更フォームの入力検証を提供する。
// 検証はプロバイダー呼び出しの前にローカルで行い、失敗した項目ごとに表示用メッセージを返す。
package form

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// 卒業年として受け付ける範囲の下限
const minGraduationYear = 1950

// 在学中の学生も登録できるよう、現在年から先の何年までを許可するか
const graduationYearLookahead = 6

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{6,19}$`)

// Errors はフィールド名から表示用メッセージへの対応。
type Errors map[string]string

// Get はフィールドのメッセージを返す。テンプレートから呼ぶ。
func (e Errors) Get(field string) string {
	return e[field]
}

// Has はフィールドにエラーがあるかを返す。
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Validator はフォーム構造体を検証する。ゴルーチン間で共有してよい。
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator はカスタムルールを登録したValidatorを生成する。
// nowは卒業年の上限計算に使う。nilの場合はtime.Now。
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	v := &Validator{validate: validator.New(), now: now}

	// 登録はパッケージ内の固定タグのみなので失敗しない
	_ = v.validate.RegisterValidation("gradyear", v.validateGraduationYear)
	_ = v.validate.RegisterValidation("phone", validatePhone)

	return v
}

func (v *Validator) validateGraduationYear(fl validator.FieldLevel) bool {
	year := int(fl.Field().Int())
	return year >= minGraduationYear && year <= v.now().Year()+graduationYearLookahead
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// check は構造体を検証し、フィールドごとの最初のエラーをメッセージに変換する。
func (v *Validator) check(s interface{}, labels map[string]string, custom map[string]string) Errors {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{"form": "Invalid input"}
	}

	out := make(Errors)
	for _, fe := range verrs {
		key := fieldKey(fe.Field())
		if _, exists := out[key]; exists {
			continue
		}
		if msg, ok := custom[key+"."+fe.Tag()]; ok {
			out[key] = msg
			continue
		}
		out[key] = formatFieldError(fe, labels[key])
	}
	return out
}

// formatFieldError は単一フィールドのエラーを表示用メッセージにする。
func formatFieldError(fe validator.FieldError, label string) string {
	if label == "" {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", label)
	}
}

// fieldKey は構造体のフィールド名をフォームのname属性に変換する（FirstName → first_name）。
func fieldKey(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func field(values url.Values, key string) string {
	return strings.TrimSpace(values.Get(key))
}

func intField(values url.Values, key string) int {
	n, err := strconv.Atoi(field(values, key))
	if err != nil {
		return 0
	}
	return n
}
