// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は記事プロバイダから受け取ったタイトル・説明・本文を
// プレーンテキストへサニタイズする。プロバイダの応答はHTML断片を含むことがあり、
// そのまま保存するとダッシュボードでのXSSリスクになるため、
// bluemondayの厳格ポリシーで全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプロバイダ由来テキストのサニタイズ機能のインターフェースを定義する。
// 記事の正規化時、ストリームログへの追記前に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去し、
	// エンティティを復元した上で連続する空白を1つに畳んだプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはタグを一切許可しないため、すべてのマークアップが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグ除去・エンティティ復元・空白の正規化を行う。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはタグを除去し、残りのテキストをエスケープして返す。
	// 保存するのはプレーンテキストなのでエンティティは元の文字へ戻す。
	stripped := s.policy.Sanitize(raw)
	unescaped := html.UnescapeString(stripped)

	return strings.Join(strings.Fields(unescaped), " ")
}
