// Package dashboard はロールに応じたメニューと表示タブの選択を提供する。
// 状態は選択中のタブのみで、クエリパラメータから毎回決まる。
package dashboard

import "github.com/hitoshi/alumniportal/internal/model"

// Tab はダッシュボードのタブID。
type Tab string

const (
	TabProfile      Tab = "profile"
	TabDashboard    Tab = "dashboard"
	TabAlumni       Tab = "alumni"
	TabRegistration Tab = "registration"
	TabEmployment   Tab = "employment"
	TabLocation     Tab = "location"
	TabAnalytics    Tab = "analytics"
	TabAdmin        Tab = "admin"
	TabSettings     Tab = "settings"
)

// MenuItem はサイドバーの1項目。
type MenuItem struct {
	ID     Tab
	Label  string
	Active bool
}

var alumniMenu = []MenuItem{
	{ID: TabDashboard, Label: "Dashboard"},
	{ID: TabAlumni, Label: "Alumni Directory"},
	{ID: TabEmployment, Label: "Employment Status"},
	{ID: TabLocation, Label: "Location Tracker"},
	{ID: TabSettings, Label: "Settings"},
}

var adminMenu = []MenuItem{
	{ID: TabDashboard, Label: "Dashboard"},
	{ID: TabAlumni, Label: "Alumni Management"},
	{ID: TabRegistration, Label: "User Registration"},
	{ID: TabEmployment, Label: "Employment Tracking"},
	{ID: TabLocation, Label: "Location Analytics"},
	{ID: TabAnalytics, Label: "Reports & Analytics"},
	{ID: TabAdmin, Label: "Admin Panel"},
	{ID: TabSettings, Label: "Settings"},
}

// View は描画するダッシュボードの構成。
type View struct {
	Role      model.Role
	RoleLabel string
	Menu      []MenuItem
	Tab       Tab
	Title     string
	// ComingSoon は内容が未実装のタブであることを示す
	ComingSoon bool
}

// Select はロールと要求されたタブから表示内容を決める。
// メニューにないタブ、または空の場合はプロフィールを表示する。
func Select(role model.Role, requested string) View {
	items := alumniMenu
	roleLabel := "Alumni"
	if role == model.RoleAdmin {
		items = adminMenu
		roleLabel = "Administrator"
	}

	tab := TabProfile
	for _, it := range items {
		if string(it.ID) == requested {
			tab = it.ID
			break
		}
	}

	menu := make([]MenuItem, len(items))
	copy(menu, items)
	for i := range menu {
		menu[i].Active = menu[i].ID == tab
	}

	v := View{
		Role:      role,
		RoleLabel: roleLabel,
		Menu:      menu,
		Tab:       tab,
		Title:     title(role, tab),
	}
	switch tab {
	case TabProfile, TabDashboard, TabSettings:
	default:
		v.ComingSoon = true
	}
	return v
}

func title(role model.Role, tab Tab) string {
	admin := role == model.RoleAdmin
	switch tab {
	case TabDashboard:
		if admin {
			return "Admin Dashboard"
		}
		return "Alumni Dashboard"
	case TabAlumni:
		if admin {
			return "Alumni Management"
		}
		return "Alumni Directory"
	case TabRegistration:
		return "User Registration Management"
	case TabEmployment:
		return "Employment Status"
	case TabLocation:
		return "Location Tracker"
	case TabAnalytics:
		return "Reports & Analytics"
	case TabAdmin:
		return "Admin Panel"
	case TabSettings:
		return "Settings"
	}
	return "My Profile"
}
