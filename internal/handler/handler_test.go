package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/alumniportal/internal/middleware"
	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/session"
)

// --- モック定義 ---

// mockSessionStore はSessionStoreのモック実装。
type mockSessionStore struct {
	snapshotFn       func() session.State
	waitSettledFn    func(ctx context.Context) (session.State, error)
	watchFn          func() (<-chan session.State, func())
	loginFn          func(ctx context.Context, req session.LoginRequest) error
	registerFn       func(ctx context.Context, req session.RegisterRequest) (session.RegisterOutcome, error)
	logoutFn         func(ctx context.Context)
	changePasswordFn func(ctx context.Context, newPassword string) error
}

func (m *mockSessionStore) Snapshot() session.State {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return session.State{}
}

func (m *mockSessionStore) WaitSettled(ctx context.Context) (session.State, error) {
	if m.waitSettledFn != nil {
		return m.waitSettledFn(ctx)
	}
	return session.State{}, nil
}

func (m *mockSessionStore) Watch() (<-chan session.State, func()) {
	if m.watchFn != nil {
		return m.watchFn()
	}
	ch := make(chan session.State)
	close(ch)
	return ch, func() {}
}

func (m *mockSessionStore) Login(ctx context.Context, req session.LoginRequest) error {
	if m.loginFn != nil {
		return m.loginFn(ctx, req)
	}
	return nil
}

func (m *mockSessionStore) Register(ctx context.Context, req session.RegisterRequest) (session.RegisterOutcome, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return session.ConfirmationPending, nil
}

func (m *mockSessionStore) Logout(ctx context.Context) {
	if m.logoutFn != nil {
		m.logoutFn(ctx)
	}
}

func (m *mockSessionStore) ChangePassword(ctx context.Context, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, newPassword)
	}
	return nil
}

// mockStoreFinder はSessionStoreFinderのモック実装。
type mockStoreFinder struct {
	findFn func(browserID string) (SessionStore, error)
}

func (m *mockStoreFinder) Find(browserID string) (SessionStore, error) {
	if m.findFn != nil {
		return m.findFn(browserID)
	}
	return &mockSessionStore{}, nil
}

// --- テストヘルパー ---

func finderFor(s SessionStore) *mockStoreFinder {
	return &mockStoreFinder{findFn: func(string) (SessionStore, error) { return s, nil }}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

// withBrowser はブラウザセッションミドルウェアを通過した状態のリクエストにする。
func withBrowser(req *http.Request) *http.Request {
	return req.WithContext(middleware.ContextWithBrowserID(req.Context(), "browser-1"))
}

func formRequest(method, target string, values url.Values) *http.Request {
	req, _ := http.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return withBrowser(req)
}

func settledState(user *model.User) session.State {
	return session.State{User: user, IsAuthenticated: user != nil}
}

func alumniUser() *model.User {
	return &model.User{
		ID:             "user-1",
		Email:          "maria@example.com",
		FirstName:      "Maria",
		LastName:       "Santos",
		Role:           model.RoleAlumni,
		GraduationYear: 2023,
		Course:         "Computer Science",
		CreatedAt:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("html.Parse() error = %v", err)
	}
	return doc
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// findNode は条件に一致する最初の要素を深さ優先で探す。
func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return ok && v == id
	}
}

func inputNamed(name string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "name")
		return n.Data == "input" && ok && v == name
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// fieldErrorAfter はinputの直後に表示されるフィールドエラーを返す。
func fieldErrorAfter(t *testing.T, doc *html.Node, name string) string {
	t.Helper()
	input := findNode(doc, inputNamed(name))
	if input == nil {
		t.Fatalf("input %q not found", name)
	}
	for n := input.NextSibling; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode {
			continue
		}
		if class, _ := attr(n, "class"); class == "field-error" {
			return textContent(n)
		}
		return ""
	}
	return ""
}
