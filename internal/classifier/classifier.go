// Package classifier は記事テキストの感情分類を提供する。
// HuggingFace推論APIのクライアントと、資格情報なしで動く固定分類器を含む。
package classifier

import (
	"context"
	"strings"

	"github.com/hitoshi/mentiond/internal/model"
)

// MaxInputRunes は分類器へ渡す入力テキストの最大文字数。
// モデルの入力制限に合わせ、呼び出し前にこの長さへ切り詰める。
const MaxInputRunes = 512

// Classifier は感情分類のインターフェース。
type Classifier interface {
	// Classify はテキストの感情分類結果を返す。
	// 一時的な失敗はErrClassifierTransient、恒久的な失敗はErrClassifierTerminalに分類される。
	Classify(ctx context.Context, text string) (model.Sentiment, error)
}

// TruncateInput は入力テキストをMaxInputRunes文字へ切り詰める。
func TruncateInput(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxInputRunes {
		return text
	}
	return string(runes[:MaxInputRunes])
}

// normalizeLabel はモデルが返すラベル表記を定義済みの3値へ正規化する。
// 未知のラベルは空文字列を返す（呼び出し側が恒久的失敗として扱う）。
func normalizeLabel(raw string) model.SentimentLabel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "POSITIVE", "POS", "LABEL_1":
		return model.SentimentPositive
	case "NEGATIVE", "NEG", "LABEL_0":
		return model.SentimentNegative
	case "NEUTRAL":
		return model.SentimentNeutral
	}
	return ""
}
