// Package permission はナビゲーションツリーを権限マップとして扱い、
// パスごとのCRUD権限を解決する。
//
// ナビゲーションツリーはテナント・ブランチ・ロール単位の設定データであり、
// どのパスにどの権限セットが付与されるかの唯一の情報源となる。
// 本パッケージの関数はすべて純粋関数で、I/Oを行わない。
package permission

import (
	"net/http"
	"strings"
)

// Permissions はモジュールごとの4フラグ固定の権限セット。
type Permissions struct {
	Read   bool `json:"read"`
	Add    bool `json:"add"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// None は全フラグfalseの権限セット。マッチしないパスのデフォルト値（fail-closed）。
var None = Permissions{}

// Full は全フラグtrueの権限セット。
var Full = Permissions{Read: true, Add: true, Update: true, Delete: true}

// SubItem はナビゲーション項目の子要素。
type SubItem struct {
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Permissions Permissions `json:"permissions"`
}

// Item はナビゲーションのメニュー項目。
// Moduleはrole_modulesと対応するモジュール識別子（任意）。
type Item struct {
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Icon        string      `json:"icon,omitempty"`
	Module      string      `json:"module,omitempty"`
	SubItems    []SubItem   `json:"subItems"`
	Permissions Permissions `json:"permissions"`
}

// Section はメニュー項目をまとめる見出し。
type Section struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Tree はナビゲーションツリー。セクションの順序がそのまま評価順序になる。
type Tree []Section

// ResolveForPath はパスに適用される権限セットを返す。
//
// パスはクエリ文字列と末尾スラッシュを除去して正規化する。
// セクションを順に走査し、各項目ではSubItemを親Itemより先に評価する（より具体的なパスが優先）。
// URLと完全一致するか、URL+"/"で始まる場合にマッチとし、最初のマッチで確定する。
// どこにもマッチしない場合は全フラグfalseを返す。
func ResolveForPath(tree Tree, path string) Permissions {
	p := NormalizePath(path)
	for _, section := range tree {
		for _, item := range section.Items {
			for _, sub := range item.SubItems {
				if matchPath(sub.URL, p) {
					return sub.Permissions
				}
			}
			if matchPath(item.URL, p) {
				return item.Permissions
			}
		}
	}
	return None
}

// FirstAccessibleURL はツリー順で最初にread権限を持つItemまたはSubItemのURLを返す。
// ログイン後やリダイレクト時のフォールバック先として使う。
func FirstAccessibleURL(tree Tree) (string, bool) {
	for _, section := range tree {
		for _, item := range section.Items {
			if item.Permissions.Read {
				return item.URL, true
			}
			for _, sub := range item.SubItems {
				if sub.Permissions.Read {
					return sub.URL, true
				}
			}
		}
	}
	return "", false
}

// AccessibleURLs はread権限を持つ全URL（ItemとSubItem）をツリー順・重複なしで返す。
func AccessibleURLs(tree Tree) []string {
	seen := make(map[string]struct{})
	urls := make([]string, 0)
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, section := range tree {
		for _, item := range section.Items {
			if item.Permissions.Read {
				add(item.URL)
			}
			for _, sub := range item.SubItems {
				if sub.Permissions.Read {
					add(sub.URL)
				}
			}
		}
	}
	return urls
}

// FilterByPermissions はread権限を持つItem/SubItemだけを残したツリーを返す。
// メニュー描画用。表示項目が0件になったセクションは丸ごと除外する。
// 親Itemにread権限がなくても読めるSubItemがあれば、親は権限なしの見出しとして残す
// （AccessibleURLsが返すURLはすべてメニューに現れる）。
// 元のツリーは変更しない。
func FilterByPermissions(tree Tree) Tree {
	filtered := make(Tree, 0, len(tree))
	for _, section := range tree {
		items := make([]Item, 0, len(section.Items))
		for _, item := range section.Items {
			subs := make([]SubItem, 0, len(item.SubItems))
			for _, sub := range item.SubItems {
				if sub.Permissions.Read {
					subs = append(subs, sub)
				}
			}
			if !item.Permissions.Read {
				if len(subs) == 0 {
					continue
				}
				item.Permissions = None
			}
			item.SubItems = subs
			items = append(items, item)
		}
		if len(items) == 0 {
			continue
		}
		filtered = append(filtered, Section{Title: section.Title, Items: items})
	}
	return filtered
}

// Allows はHTTPメソッドに対応するCRUDフラグを判定する。
// GET/HEAD=read, POST=add, PUT/PATCH=update, DELETE=delete。
// それ以外のメソッドは拒否する。
func Allows(p Permissions, method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return p.Read
	case http.MethodPost:
		return p.Add
	case http.MethodPut, http.MethodPatch:
		return p.Update
	case http.MethodDelete:
		return p.Delete
	default:
		return false
	}
}

// NormalizePath はクエリ文字列・フラグメント・末尾スラッシュを除去する。
// ルート "/" はそのまま残す。
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// matchPath はエントリURLが正規化済みパスにマッチするかを判定する。
func matchPath(entryURL, path string) bool {
	if entryURL == "" {
		return false
	}
	u := NormalizePath(entryURL)
	if path == u {
		return true
	}
	if u == "/" {
		return false
	}
	return strings.HasPrefix(path, u+"/")
}
