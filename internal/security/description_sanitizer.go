// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer はイベント説明文のHTMLをサニタイズする。
// bluemondayの許可リストベースのポリシーで、書式用のタグとリンクのみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLサニタイズのインターフェース。
type Sanitizer interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。同一入力には常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// DescriptionSanitizer はイベント説明文用のSanitizer。
type DescriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, strong, em, a
//   - aタグのhrefはhttpsとmailtoのみ。target="_blank"とrel="noopener noreferrer"を付与する
//   - script, style, iframe, img およびon*イベント属性は除去する
func NewDescriptionSanitizer() *DescriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AllowURLSchemeWithCustomPolicy("mailto", func(u *url.URL) bool {
		return true
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &DescriptionSanitizer{policy: p}
}

// Sanitize はイベント説明文をサニタイズする。前後の空白は除去する。
func (s *DescriptionSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

var _ Sanitizer = (*DescriptionSanitizer)(nil)
