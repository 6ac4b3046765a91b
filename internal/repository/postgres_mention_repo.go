package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/mentiond/internal/model"
)

// mentionColumns はSELECTで取得するカラムの並び。scanMentionと対応を保つこと。
const mentionColumns = `id, keyword, url, entry_id, source, author, title, description,
	url_to_image, published_at, content, sentiment_label, sentiment_score,
	lead, note, inserted_at, enriched_at`

// PostgresMentionRepo はPostgreSQLを使用したメンションリポジトリ。
type PostgresMentionRepo struct {
	db *sql.DB
}

// NewPostgresMentionRepo はPostgresMentionRepoを生成する。
func NewPostgresMentionRepo(db *sql.DB) *PostgresMentionRepo {
	return &PostgresMentionRepo{db: db}
}

// UpsertRaw は未エンリッチのメンションを作成する。
// ON CONFLICT DO NOTHINGにより同一キーの既存行があれば何も変更しない。
// RETURNINGが行を返さなかった場合は既存行を検索して返す。
func (r *PostgresMentionRepo) UpsertRaw(ctx context.Context, article model.Article, entryID string) (*model.Mention, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO mentions (keyword, url, entry_id, source, author, title, description,
		                       url_to_image, published_at, content)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT DO NOTHING
		 RETURNING `+mentionColumns,
		article.Keyword, nullString(article.URL), nullString(entryID),
		article.SourceName, article.Author, article.Title, article.Description,
		nullString(article.ImageURL), article.PublishedAt, article.Content,
	)

	mention, err := scanMention(row)
	if err == sql.ErrNoRows {
		// 既存行と競合した。既存行を返す（何も変更しない）
		existing, findErr := r.FindByKey(ctx, article.Keyword, article.URL, entryID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing == nil {
			// 挿入も検索も空振り: 並行トランザクション未コミットの競合
			return nil, false, fmt.Errorf("%w: 生メンションの挿入が競合しました", model.ErrStoreConflict)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreErr("生メンションの挿入に失敗しました", err)
	}

	return mention, true, nil
}

// UpsertEnriched は感情分類結果を原子的にinsert-or-updateする。
// 衝突対象は部分一意インデックスに合わせてURLの有無で切り替える。
// UPDATE分岐はsentiment_label、sentiment_score、enriched_atのみを更新する。
func (r *PostgresMentionRepo) UpsertEnriched(
	ctx context.Context,
	article model.Article,
	entryID string,
	label model.SentimentLabel,
	score float64,
	enrichedAt time.Time,
) (*model.Mention, error) {
	conflict := `(keyword, url) WHERE url IS NOT NULL`
	if article.URL == "" {
		conflict = `(keyword, entry_id) WHERE url IS NULL AND entry_id IS NOT NULL`
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO mentions (keyword, url, entry_id, source, author, title, description,
		                       url_to_image, published_at, content,
		                       sentiment_label, sentiment_score, enriched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT `+conflict+`
		 DO UPDATE SET sentiment_label = EXCLUDED.sentiment_label,
		               sentiment_score = EXCLUDED.sentiment_score,
		               enriched_at     = EXCLUDED.enriched_at
		 RETURNING `+mentionColumns,
		article.Keyword, nullString(article.URL), nullString(entryID),
		article.SourceName, article.Author, article.Title, article.Description,
		nullString(article.ImageURL), article.PublishedAt, article.Content,
		string(label), score, enrichedAt,
	)

	mention, err := scanMention(row)
	if err != nil {
		return nil, wrapStoreErr("エンリッチ済みメンションのUPSERTに失敗しました", err)
	}

	return mention, nil
}

// FindByKey は重複排除キーでメンションを検索する。見つからない場合はnilを返す。
func (r *PostgresMentionRepo) FindByKey(ctx context.Context, keyword, url, entryID string) (*model.Mention, error) {
	var row *sql.Row
	if url != "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+mentionColumns+` FROM mentions WHERE keyword = $1 AND url = $2`,
			keyword, url,
		)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT `+mentionColumns+` FROM mentions
			 WHERE keyword = $1 AND url IS NULL AND entry_id = $2`,
			keyword, entryID,
		)
	}

	mention, err := scanMention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("メンションの検索に失敗しました", err)
	}

	return mention, nil
}

// ListByKeyword はキーワードのメンション一覧をpublished_at降順で返す。
func (r *PostgresMentionRepo) ListByKeyword(ctx context.Context, keyword string, limit, offset int) ([]*model.Mention, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE keyword = $1
		 ORDER BY published_at DESC
		 LIMIT $2 OFFSET $3`,
		keyword, limit, offset,
	)
	if err != nil {
		return nil, wrapStoreErr("メンション一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	return scanMentions(rows)
}

// ListLeads はlead=trueのメンション一覧をpublished_at降順で返す。
func (r *PostgresMentionRepo) ListLeads(ctx context.Context, limit, offset int) ([]*model.Mention, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE lead = TRUE
		 ORDER BY published_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, wrapStoreErr("リード一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	return scanMentions(rows)
}

// CountByKeyword はキーワードのメンション総数を返す。
func (r *PostgresMentionRepo) CountByKeyword(ctx context.Context, keyword string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mentions WHERE keyword = $1`,
		keyword,
	).Scan(&count)
	if err != nil {
		return 0, wrapStoreErr("メンション数の取得に失敗しました", err)
	}
	return count, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMention は1行をMentionへ読み取る。
func scanMention(row rowScanner) (*model.Mention, error) {
	m := &model.Mention{}
	var url, entryID, imageURL, label, note sql.NullString
	var score sql.NullFloat64
	var enrichedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.Keyword, &url, &entryID, &m.SourceName, &m.Author,
		&m.Title, &m.Description, &imageURL, &m.PublishedAt, &m.Content,
		&label, &score, &m.Lead, &note, &m.InsertedAt, &enrichedAt,
	)
	if err != nil {
		return nil, err
	}

	m.URL = nullStringValue(url)
	m.EntryID = nullStringValue(entryID)
	m.ImageURL = nullStringValue(imageURL)
	m.SentimentLabel = model.SentimentLabel(nullStringValue(label))
	m.Note = nullStringValue(note)
	if score.Valid {
		m.SentimentScore = &score.Float64
	}
	if enrichedAt.Valid {
		m.EnrichedAt = &enrichedAt.Time
	}

	return m, nil
}

// scanMentions は結果セット全体をMentionスライスへ読み取る。
func scanMentions(rows *sql.Rows) ([]*model.Mention, error) {
	var mentions []*model.Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, wrapStoreErr("メンション行の読み取りに失敗しました", err)
		}
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("メンション一覧の走査に失敗しました", err)
	}
	return mentions, nil
}

// wrapStoreErr はドライバエラーをストアのエラー分類へマップする。
// 一意制約違反はErrStoreConflict、それ以外はErrStoreUnavailableに分類する。
func wrapStoreErr(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %v", model.ErrStoreConflict, msg, err)
	}
	return fmt.Errorf("%w: %s: %v", model.ErrStoreUnavailable, msg, err)
}

// nullString は空文字列をNULLへ変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列値を取り出す。NULLは空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ MentionRepository = (*PostgresMentionRepo)(nil)
