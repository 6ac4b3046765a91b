// Package model はドメインモデルを定義する。
package model

import (
	"time"
	"unicode/utf8"
)

// ノイズゲートの閾値。これ未満の記事は分類する価値がないとみなす。
const (
	MinTitleRunes       = 10
	MinDescriptionRunes = 20
)

// Article は記事プロバイダから取得した生の記事を表す。
// ストリームログへの追記後は不変として扱う。
type Article struct {
	Keyword     string // この記事を取得した検索キーワード
	SourceName  string // 提供元メディア名（不明な場合は "Unknown"）
	Author      string // 著者名（不明な場合は "Unknown"）
	Title       string
	Description string
	URL         string // 外部同一性キー。空文字列は「URLなし」を表す
	ImageURL    string
	PublishedAt time.Time // 欠損時は取得時刻で補完される
	Content     string    // 255文字に切り詰めたプレビュー
}

// IsNoise は分類する価値のない記事かを返す。
// ノイズ記事はパイプラインのどの段でも永続化されない。
// 取り込み側は先行登録をスキップし、ワーカー側は永続化せずにACKする。
func (a Article) IsNoise() bool {
	return utf8.RuneCountInString(a.Title) < MinTitleRunes ||
		utf8.RuneCountInString(a.Description) < MinDescriptionRunes
}

// SentimentLabel は感情分類のラベルを表す。
type SentimentLabel string

const (
	// SentimentPositive は肯定的な感情を表す。
	SentimentPositive SentimentLabel = "POSITIVE"
	// SentimentNeutral は中立的な感情を表す。
	SentimentNeutral SentimentLabel = "NEUTRAL"
	// SentimentNegative は否定的な感情を表す。
	SentimentNegative SentimentLabel = "NEGATIVE"
)

// IsValid はラベルが定義済みの3値のいずれかであるかを返す。
func (l SentimentLabel) IsValid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Mention はストアに永続化されたメンション（記事 + 感情分類結果）を表す。
// (keyword, url) の組につき1行。URLがない記事はストリームのエントリIDで代替する。
type Mention struct {
	ID             int64
	Keyword        string
	URL            string // 空文字列はNULL（URLなし）
	EntryID        string // URLなし記事の重複排除キー。空文字列はNULL
	SourceName     string
	Author         string
	Title          string
	Description    string
	ImageURL       string
	PublishedAt    time.Time
	Content        string
	SentimentLabel SentimentLabel // 空は未エンリッチ
	SentimentScore *float64       // 未エンリッチの間はnil
	Lead           bool           // 編集系エンドポイントが所有する。パイプラインは書き換えない
	Note           string         // 同上
	InsertedAt     time.Time
	EnrichedAt     *time.Time // エンリッチ成功まではnil
}

// Enriched は感情分類が完了しているかを返す。
// sentiment_labelが設定されていればエンリッチ済みとみなす。
func (m *Mention) Enriched() bool {
	return m.SentimentLabel != ""
}

// Sentiment は分類器が返す感情分類結果を表す。
type Sentiment struct {
	Label SentimentLabel
	Score float64
}
