package permission

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTree はナビゲーション設定が不正な場合のエラー。
var ErrInvalidTree = errors.New("invalid navigation configuration")

//go:embed default_navigation.json
var defaultNavigationJSON []byte

// ParseTree はJSONで保存されたナビゲーション設定を検証付きでパースする。
//
// 型の不一致や未知のフィールドは拒否する。
// items、subItems、permissionsが省略された場合は空（全フラグfalse）として扱う。
// null または空入力は空のツリーになる。
func ParseTree(data []byte) (Tree, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Tree{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var tree Tree
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after navigation tree", ErrInvalidTree)
	}

	tree = tree.normalized()
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

// Validate はツリーの構造を検証する。
// すべてのItemとSubItemは "/" で始まるURLを持たなければならない。
func (t Tree) Validate() error {
	for si, section := range t {
		for ii, item := range section.Items {
			if err := validateURL(item.URL); err != nil {
				return fmt.Errorf("%w: sections[%d].items[%d]: %v", ErrInvalidTree, si, ii, err)
			}
			for ci, sub := range item.SubItems {
				if err := validateURL(sub.URL); err != nil {
					return fmt.Errorf("%w: sections[%d].items[%d].subItems[%d]: %v", ErrInvalidTree, si, ii, ci, err)
				}
			}
		}
	}
	return nil
}

// MarshalJSON は省略されたスライスをnullではなく空配列として出力する。
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Section(t.normalized()))
}

// DefaultTree はサインアップ時に管理者ロールへ付与する既定のナビゲーションを返す。
// 全項目にフル権限が付与されている。
func DefaultTree() Tree {
	tree, err := ParseTree(defaultNavigationJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded default navigation is invalid: %v", err))
	}
	return tree
}

// normalized はnilスライスを空スライスに置き換えたコピーを返す。
func (t Tree) normalized() Tree {
	out := make(Tree, len(t))
	for i, section := range t {
		items := make([]Item, len(section.Items))
		for j, item := range section.Items {
			if item.SubItems == nil {
				item.SubItems = []SubItem{}
			} else {
				item.SubItems = append([]SubItem{}, item.SubItems...)
			}
			items[j] = item
		}
		out[i] = Section{Title: section.Title, Items: items}
	}
	return out
}

func validateURL(u string) error {
	if u == "" {
		return errors.New("url is required")
	}
	if !strings.HasPrefix(u, "/") {
		return fmt.Errorf("url must start with '/': %q", u)
	}
	if strings.ContainsAny(u, "?# ") {
		return fmt.Errorf("url must be a plain path: %q", u)
	}
	return nil
}
