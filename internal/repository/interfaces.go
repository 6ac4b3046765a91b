// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mentiond/internal/model"
)

// MentionRepository はメンションデータの永続化インターフェース。
// (keyword, url)（URLなし記事は(keyword, entry_id)）を一意キーとする冪等なUPSERTを提供する。
type MentionRepository interface {
	// UpsertRaw は未エンリッチのメンションを作成する。
	// 同一キーの行が既に存在する場合は何も変更せず既存行を返す。
	// 戻り値のcreatedは新規に行が作成されたかを示す。
	UpsertRaw(ctx context.Context, article model.Article, entryID string) (mention *model.Mention, created bool, err error)

	// UpsertEnriched は感情分類結果を原子的にinsert-or-updateする。
	// UPDATE分岐はsentiment_label、sentiment_score、enriched_atのみを更新し、
	// lead/noteおよび記事フィールドには決して触れない。
	// 同一キーへの重複呼び出しはenriched_atの更新以外は実質no-op。
	UpsertEnriched(ctx context.Context, article model.Article, entryID string, label model.SentimentLabel, score float64, enrichedAt time.Time) (*model.Mention, error)

	// FindByKey は重複排除キーでメンションを検索する。見つからない場合はnilを返す。
	// urlが空でない場合は(keyword, url)、空の場合は(keyword, entry_id)で検索する。
	FindByKey(ctx context.Context, keyword, url, entryID string) (*model.Mention, error)

	// ListByKeyword はキーワードのメンション一覧をpublished_at降順で返す。
	ListByKeyword(ctx context.Context, keyword string, limit, offset int) ([]*model.Mention, error)

	// ListLeads はlead=trueのメンション一覧をpublished_at降順で返す。
	ListLeads(ctx context.Context, limit, offset int) ([]*model.Mention, error)

	// CountByKeyword はキーワードのメンション総数を返す。
	CountByKeyword(ctx context.Context, keyword string) (int, error)
}
