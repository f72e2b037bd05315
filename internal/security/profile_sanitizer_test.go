package security

import (
	"testing"

	"github.com/hitoshi/alumniportal/internal/model"
)

func TestProfileSanitizer_Text(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"プレーンテキスト", "Computer Science", "Computer Science"},
		{"空文字", "", ""},
		{"前後の空白", "  Jane  ", "Jane"},
		{"scriptタグ", `<script>alert(1)</script>Jane`, "Jane"},
		{"装飾タグ", "<b>Acme</b> Inc", "Acme Inc"},
		{"イベント属性", `<img src=x onerror=alert(1)>Tokyo`, "Tokyo"},
		{"アンパサンド", "R&D", "R&D"},
		{"引用符", `O'Brien`, `O'Brien`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestProfileSanitizer_Clean は自由入力項目のみが書き換えられることを検証する。
func TestProfileSanitizer_Clean(t *testing.T) {
	s := NewProfileSanitizer()
	p := &model.Profile{
		ID:             "u1",
		FirstName:      "<i>Jane</i>",
		LastName:       " Doe ",
		Role:           model.RoleAlumni,
		GraduationYear: 2020,
		Course:         "<script>x</script>BSc",
		Company:        "<a href='http://evil'>Acme</a>",
		PhoneNumber:    "+1 555 0100",
	}

	s.Clean(p)

	if p.FirstName != "Jane" || p.LastName != "Doe" {
		t.Errorf("name = %q %q", p.FirstName, p.LastName)
	}
	if p.Course != "BSc" {
		t.Errorf("Course = %q, want %q", p.Course, "BSc")
	}
	if p.Company != "Acme" {
		t.Errorf("Company = %q, want %q", p.Company, "Acme")
	}
	if p.PhoneNumber != "+1 555 0100" {
		t.Errorf("PhoneNumber = %q", p.PhoneNumber)
	}
	if p.ID != "u1" || p.Role != model.RoleAlumni || p.GraduationYear != 2020 {
		t.Errorf("non-text fields changed: %+v", p)
	}

	// nilでもパニックしない
	s.Clean(nil)
}
