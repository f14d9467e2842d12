// Package security はユーザー入力の無害化を提供する。
//
// 表示名やボード名などクライアントにそのまま描画されるテキストから
// HTMLタグを取り除き、XSSの足掛かりを残さない。
// bluemondayのStrictPolicyを使用し、タグは全て除去する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力の無害化インターフェース。
type TextSanitizer interface {
	// SanitizeText はHTMLタグと制御文字を取り除き、前後の空白を詰めた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewTextSanitizer はTextSanitizerを生成する。
// maxLenが正の場合、結果をその文字数（rune単位）で切り詰める。
func NewTextSanitizer(maxLen int) *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// SanitizeText はHTMLタグと制御文字を取り除いたテキストを返す。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはエンティティをエスケープして返すので、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")

	if s.maxLen > 0 {
		if runes := []rune(text); len(runes) > s.maxLen {
			text = strings.TrimSpace(string(runes[:s.maxLen]))
		}
	}
	return text
}
