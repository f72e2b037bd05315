package model

import "time"

// Role はアカウントの種別を表す。
type Role string

const (
	// RoleAlumni は卒業生アカウント。プロフィール未作成時のデフォルトでもある。
	RoleAlumni Role = "alumni"
	// RoleAdmin は管理者アカウント。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAlumni || r == RoleAdmin
}

// Profile はprofilesテーブルの1行を表す。
// 認証プロバイダーのIdentity IDと1:1で紐づく。
type Profile struct {
	ID             string     `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Role           Role       `json:"role"`
	GraduationYear int        `json:"graduation_year"`
	Course         string     `json:"course"`
	CurrentJob     string     `json:"current_job,omitempty"`
	Company        string     `json:"company,omitempty"`
	Location       string     `json:"location,omitempty"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// User はIdentityとProfileをマージした、画面が参照するユーザー情報。
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           Role      `json:"role"`
	GraduationYear int       `json:"graduationYear"`
	Course         string    `json:"course"`
	CurrentJob     string    `json:"currentJob"`
	Company        string    `json:"company"`
	Location       string    `json:"location"`
	PhoneNumber    string    `json:"phoneNumber"`
	IsVerified     bool      `json:"isVerified"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Initials はヘッダー表示用のイニシャルを返す。
func (u *User) Initials() string {
	var s string
	if r := []rune(u.FirstName); len(r) > 0 {
		s += string(r[0])
	}
	if r := []rune(u.LastName); len(r) > 0 {
		s += string(r[0])
	}
	return s
}
