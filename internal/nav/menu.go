// Package nav はナビゲーションメニューの定義とロール別の絞り込みを提供する。
// 表示判定は認証状態からのみ導出し、独自の状態を持たない。
package nav

import (
	"slices"
	"strings"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/model"
)

// Item はメニュー項目。
type Item struct {
	Href  string
	Label string
	Roles []model.Role
}

// Allows は指定ロールがこの項目を閲覧できるかを返す。
func (i Item) Allows(role model.Role) bool {
	return slices.Contains(i.Roles, role)
}

var (
	everyone  = []model.Role{model.RoleUser, model.RoleAdmin}
	adminOnly = []model.Role{model.RoleAdmin}
)

// Menu はダッシュボードの全メニュー。
var Menu = []Item{
	{Href: "/", Label: "대시보드", Roles: everyone},
	{Href: "/stocks", Label: "종목 분석", Roles: everyone},
	{Href: "/predictions", Label: "예측 이력", Roles: adminOnly},
	{Href: "/models", Label: "🤖 모델 관리", Roles: adminOnly},
	{Href: "/ab-config", Label: "🔬 A/B 설정", Roles: adminOnly},
	{Href: "/admin/dashboard", Label: "⚙️ 관리자", Roles: adminOnly},
	{Href: "/admin/stocks", Label: "⚙️ 종목 관리", Roles: adminOnly},
	{Href: "/admin/evaluations", Label: "📝 모델 평가", Roles: adminOnly},
	{Href: "/admin/performance", Label: "📊 성능 대시보드", Roles: adminOnly},
	{Href: "/admin/users", Label: "👥 사용자 관리", Roles: adminOnly},
}

// Filter はロールが閲覧できる項目だけを定義順に返す。
func Filter(items []Item, role model.Role) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Allows(role) {
			out = append(out, it)
		}
	}
	return out
}

// RoleOf はメニュー絞り込みに使うロールを返す。未認証は一般ユーザー扱い。
func RoleOf(state auth.State) model.Role {
	if state.User == nil {
		return model.RoleUser
	}
	return state.User.Role
}

// ShowNavigation はナビゲーションを表示するかを返す。
// ログイン画面と未認証時は表示しない。
func ShowNavigation(path, loginPath string, state auth.State) bool {
	return path != loginPath && !state.Loading && state.IsAuthenticated()
}

// Link は描画用のメニュー項目。
type Link struct {
	Href   string
	Label  string
	Active bool
}

// Links は現在のパスに対するアクティブ表示付きのリンク一覧を返す。
func Links(state auth.State, currentPath string) []Link {
	items := Filter(Menu, RoleOf(state))
	links := make([]Link, 0, len(items))
	for _, it := range items {
		links = append(links, Link{
			Href:   it.Href,
			Label:  it.Label,
			Active: isActive(it.Href, currentPath),
		})
	}
	return links
}

func isActive(href, path string) bool {
	if href == "/" {
		return path == "/"
	}
	return path == href || strings.HasPrefix(path, href+"/")
}
