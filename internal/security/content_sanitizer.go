// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 投資家が入力した名前・会社名はタグをすべて除去したプレーンテキストに、
// スタートアップ紹介文は許可リストに含まれるタグだけを残したHTMLに整える。
// どちらもbluemondayのポリシーで処理する。
package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxProfileFieldLength は名前・会社名の最大文字数。
const MaxProfileFieldLength = 100

// ProfileSanitizer は投資家プロフィール入力の整形インターフェース。
type ProfileSanitizer interface {
	// SanitizeText はタグを除去し、空白を詰め、最大文字数で切り詰めたプレーンテキストを返す。
	SanitizeText(raw string) string
}

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// スタートアップ紹介文の取り込み時に使用される。
type ContentSanitizerService interface {
	// Sanitize は許可タグ（p, br, a, ul, ol, li, strong, em）のみを通過させたHTMLを返す。
	// aタグのhrefはhttpsのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	Sanitize(rawHTML string) string
}

type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はプレーンテキストに整える。
func (s *profileSanitizer) SanitizeText(raw string) string {
	// StrictPolicyは&などをエスケープするため、保存前に元へ戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > MaxProfileFieldLength {
		text = string([]rune(text)[:MaxProfileFieldLength])
	}
	return text
}

// contentSanitizer はContentSanitizerServiceの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceを生成する。
// script, iframe, styleおよびon*イベント属性は許可リストに含めないことで除去される。
func NewContentSanitizer() ContentSanitizerService {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
