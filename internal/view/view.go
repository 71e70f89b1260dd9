// Package view はダッシュボードのHTMLテンプレート描画を提供する。
// テンプレートと静的ファイルはバイナリに埋め込む。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/hitoshi/craveny/internal/model"
	"github.com/hitoshi/craveny/internal/nav"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

// ページテンプレート名
const (
	PageLoading      = "loading"
	PageAccessDenied = "access_denied"
	PageLogin        = "login"
	PageContent      = "page"
)

// Banner は予測タスク進捗バナーの表示内容。
type Banner struct {
	Description string
	Processed   int
	Total       int
	Progress    int
}

// NewBanner は予測タスク状態からバナーを生成する。表示すべきタスクが無ければnilを返す。
func NewBanner(st *model.PredictionStatus) *Banner {
	task, ok := st.FirstActiveTask()
	if !ok {
		return nil
	}
	return &Banner{
		Description: task.Description,
		Processed:   task.Processed(),
		Total:       task.Total,
		Progress:    task.Progress(),
	}
}

// PageData はレイアウトとページテンプレートに渡すデータ。
type PageData struct {
	Title       string
	Description string
	Path        string
	HomePath    string

	// レイアウト
	ShowNav        bool
	User           *model.User
	Role           model.Role
	IsAdmin        bool
	Links          []nav.Link
	Banner         *Banner
	RefreshSeconds int
	CSRFToken      string
	Flash          string

	// ログイン画面
	Error    string
	Email    string
	Redirect string

	// 銘柄詳細
	StockCode string
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// New はすべてのページテンプレートをパースしたRendererを生成する。
func New() (*Renderer, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{PageLoading, PageAccessDenied, PageLogin, PageContent} {
		tmpl, err := template.ParseFS(templateFiles, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// MustNew はNewと同じだが、パース失敗時にpanicする。埋め込みテンプレート前提のため起動時にのみ使う。
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render は指定ページをステータスコード付きで書き込む。
// 描画失敗時は途中までの出力を送らないよう、バッファに描画してから書き込む。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("unknown page template: %s", page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// StaticHandler は埋め込み静的ファイルを /static/ 配下で配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("failed to create static sub filesystem: " + err.Error())
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
