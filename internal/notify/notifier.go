// Package notify はストア書き込み後の変更イベント発行を提供する。
// 下流のダッシュボードUIが購読する境界であり、発行の失敗は書き込みを失敗させない。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mentiond/internal/model"
)

// イベント種別。
const (
	// EventInsert は新規メンション作成を表す。
	EventInsert = "insert"
	// EventUpdate は既存メンションの更新（エンリッチ結果の反映）を表す。
	EventUpdate = "update"
)

// channelPrefix は変更イベントを発行するチャネル名のプレフィックス。
// キーワードごとに "mentions:events:{keyword}" へ発行する。
const channelPrefix = "mentions:events:"

// Event はメンションの変更イベントを表す。
type Event struct {
	Type    string         `json:"type"` // insert | update
	Mention mentionPayload `json:"mention"`
}

// mentionPayload はイベントに載せるメンションのワイヤ表現。
type mentionPayload struct {
	ID             int64      `json:"id"`
	Keyword        string     `json:"keyword"`
	URL            string     `json:"url,omitempty"`
	Source         string     `json:"source"`
	Author         string     `json:"author"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	URLToImage     string     `json:"urlToImage,omitempty"`
	PublishedAt    time.Time  `json:"published_at"`
	Content        string     `json:"content"`
	SentimentLabel string     `json:"sentiment_label,omitempty"`
	SentimentScore *float64   `json:"sentiment_score,omitempty"`
	Lead           bool       `json:"lead"`
	Note           string     `json:"note,omitempty"`
	InsertedAt     time.Time  `json:"inserted_at"`
	EnrichedAt     *time.Time `json:"enriched_at,omitempty"`
}

// NewEvent はメンションから変更イベントを構築する。
func NewEvent(eventType string, m *model.Mention) Event {
	return Event{
		Type: eventType,
		Mention: mentionPayload{
			ID:             m.ID,
			Keyword:        m.Keyword,
			URL:            m.URL,
			Source:         m.SourceName,
			Author:         m.Author,
			Title:          m.Title,
			Description:    m.Description,
			URLToImage:     m.ImageURL,
			PublishedAt:    m.PublishedAt,
			Content:        m.Content,
			SentimentLabel: string(m.SentimentLabel),
			SentimentScore: m.SentimentScore,
			Lead:           m.Lead,
			Note:           m.Note,
			InsertedAt:     m.InsertedAt,
			EnrichedAt:     m.EnrichedAt,
		},
	}
}

// Notifier は変更イベント発行のインターフェース。
type Notifier interface {
	// Publish は変更イベントを発行する。
	// ベストエフォートの境界であり、呼び出し元は失敗をログに記録するだけでよい。
	Publish(ctx context.Context, event Event) error
}

// RedisNotifier はRedis PUBLISHによるNotifierの実装。
// キーワードごとのチャネルへJSONエンコードしたイベントを発行する。
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier はRedisNotifierを生成する。
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// Publish はイベントをJSONエンコードしてキーワードのチャネルへ発行する。
func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}

	channel := Channel(event.Mention.Keyword)
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("イベントの発行に失敗しました: %w", err)
	}

	return nil
}

// Channel はキーワードに対応する発行チャネル名を返す。
func Channel(keyword string) string {
	return channelPrefix + keyword
}

// NopNotifier は何もしないNotifier。購読者のない構成およびテストで使用する。
type NopNotifier struct{}

// Publish は何もせずnilを返す。
func (NopNotifier) Publish(ctx context.Context, event Event) error { return nil }

// compile-time interface check
var _ Notifier = (*RedisNotifier)(nil)
var _ Notifier = NopNotifier{}
