package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/alumniportal/internal/dashboard"
	"github.com/hitoshi/alumniportal/internal/form"
	"github.com/hitoshi/alumniportal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// ページテンプレート名
const (
	pageLogin     = "login"
	pageRegister  = "register"
	pageDashboard = "dashboard"
	pageError     = "error"
)

// pageData はテンプレートに渡す値。ページごとに必要な項目のみ設定する。
type pageData struct {
	Title     string
	CSRFField string
	CSRFToken string
	Notice    string
	Error     string
	Errors    form.Errors

	Login             form.Login
	Register          form.Register
	MaxGraduationYear int

	User *model.User
	View dashboard.View
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを読み込む。
// 各ページはlayoutと組み合わせて個別に解析し、contentブロックの衝突を避ける。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{pageLogin, pageRegister, pageDashboard, pageError} {
		t, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render はページを描画する。テンプレートの実行に失敗した場合は500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data pageData) {
	t, ok := r.pages[name]
	if !ok {
		slog.Error("unknown page template", slog.String("page", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// staticHandler は埋め込みの静的ファイルを/static/配下で配信する。
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
