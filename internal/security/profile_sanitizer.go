package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/alumniportal/internal/model"
)

// ProfileSanitizer は登録フォームの自由入力項目からHTMLを除去する。
// 画面ではhtml/templateでエスケープされるが、プロバイダー側のprofilesテーブルは
// 他のクライアントからも参照されるため保存前にタグを落としておく。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はタグを一切許可しないポリシーでProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text は文字列からタグを除去し、前後の空白を取り除く。
// bluemondayが出力するエンティティは元の文字に戻す。
func (s *ProfileSanitizer) Text(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// Clean はプロフィールの文字列項目をその場で無害化する。
func (s *ProfileSanitizer) Clean(p *model.Profile) {
	if p == nil {
		return
	}
	p.FirstName = s.Text(p.FirstName)
	p.LastName = s.Text(p.LastName)
	p.Course = s.Text(p.Course)
	p.CurrentJob = s.Text(p.CurrentJob)
	p.Company = s.Text(p.Company)
	p.Location = s.Text(p.Location)
	p.PhoneNumber = s.Text(p.PhoneNumber)
}
