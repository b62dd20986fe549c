// Package security はユーザー入力の無害化とURL検証を提供する。
//
// TextSanitizer は氏名・連絡先・ロール名・メニュー見出しなど、
// プレーンテキストとして表示される入力からマークアップを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力の無害化インターフェース。
type TextSanitizer interface {
	// SanitizeText はHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// script/styleの中身も除去される。同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizerの実装。
// bluemonday.Policyはスレッドセーフに使える。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去したうえでエンティティを元の文字に戻す。
// 保存値はHTMLではなくテキストとして扱われるため、"R&D" は "R&D" のまま残す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
