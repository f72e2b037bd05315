// Package session は「誰がログインしているか」を保持するブラウザ単位のセッションストアを提供する。
// ストアは外部プロバイダーのセッションを単一のイベントループで射影し、
// 画面はスナップショットと変更通知だけを読む。
package session

import "github.com/hitoshi/alumniportal/internal/model"

// State は画面が参照するセッション状態。
// IsAuthenticatedはUserが存在しプロバイダーのセッションが有効な場合に限りtrue。
type State struct {
	User            *model.User `json:"user"`
	IsLoading       bool        `json:"isLoading"`
	IsAuthenticated bool        `json:"isAuthenticated"`
}

// clone は呼び出し側が変更しても共有状態に影響しないコピーを返す。
func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// LoginRequest はログイン要求。ExpectedRoleは認証後の照合にのみ使い、プロバイダーには送らない。
type LoginRequest struct {
	Email        string
	Password     string
	ExpectedRole model.Role
}

// RegisterRequest はアカウント登録要求。
// ConfirmPasswordはフォームでのみ検証し、ストアでは参照しない。
type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Role            model.Role
	GraduationYear  int
	Course          string
	PhoneNumber     string
}

// RegisterOutcome は登録成功時の結果。
type RegisterOutcome int

const (
	// ConfirmationPending はメール確認待ちでセッションが発行されていない状態。
	ConfirmationPending RegisterOutcome = iota + 1
	// SessionActive はセッションが発行され即時ログインした状態。
	SessionActive
)

// String はメトリクスとログ用の名前を返す。
func (o RegisterOutcome) String() string {
	switch o {
	case ConfirmationPending:
		return "confirmation_pending"
	case SessionActive:
		return "session_active"
	}
	return "unknown"
}
