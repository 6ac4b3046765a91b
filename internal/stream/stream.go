// Package stream はRedis Streamsを使った追記専用・パーティション付きログを提供する。
// 取り込みとエンリッチの間の耐久バッファとして機能し、
// コンシューマグループごとに独立したカーソルで読み取れる。
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mentiond/internal/model"
)

// Entry はログから読み取ったエントリを表す。
// IDはログが採番する単調増加のID。同一ストリーム内でのみ順序比較できる。
type Entry struct {
	ID     string
	Fields map[string]string
}

// PendingEntry はクレーム済みだが未ACKのエントリの情報を表す。
type PendingEntry struct {
	ID            string
	Consumer      string        // 現在クレームしているコンシューマ名
	Idle          time.Duration // 最終配送からの経過時間
	DeliveryCount int64         // 配送回数（クレームごとにインクリメントされる）
}

// Log は追記専用ログのインターフェース。
// 全操作はコンテキストのキャンセルとタイムアウトに従う。
type Log interface {
	// Append はエントリをストリーム末尾に追記し、採番されたIDを返す。
	// 追記は原子的で、部分的な書き込みは発生しない。
	Append(ctx context.Context, streamKey string, fields map[string]string) (string, error)

	// AppendBatch は複数エントリを1トランザクションで追記順を保って追記する。
	// 全件成功するか、全件失敗するかのいずれか。
	AppendBatch(ctx context.Context, streamKey string, batch []map[string]string) ([]string, error)

	// EnsureGroup はコンシューマグループを作成する。
	// ストリームが存在しない場合は同時に作成する。既存グループは何もしない。
	EnsureGroup(ctx context.Context, streamKey, group string) error

	// Read はグループ未配送のエントリを最大count件読み取り、consumerにクレームする。
	// エントリがない場合は最大blockまで協調的に待機し、空スライスを返す。
	Read(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]Entry, error)

	// Ack はエントリをグループにとって処理済みとして記録する。冪等。
	Ack(ctx context.Context, streamKey, group string, ids ...string) error

	// Pending はクレーム後minIdle以上ACKされていないエントリを最大count件返す。
	// クラッシュリカバリの再クレーム対象の列挙に使う。
	Pending(ctx context.Context, streamKey, group string, minIdle time.Duration, count int64) ([]PendingEntry, error)

	// Claim は指定エントリの所有権をconsumerに移し、本文を返す。
	// 配送回数がインクリメントされる。minIdle未満のエントリは対象外。
	Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error)
}

// RedisLog はRedis StreamsによるLogの実装。
type RedisLog struct {
	rdb *redis.Client
}

// NewRedisLog はRedisLogを生成する。
func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb}
}

// Append はXADDでエントリを追記する。
func (l *RedisLog) Append(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: toValues(fields),
	}).Result()
	if err != nil {
		return "", wrapAppendErr(err)
	}
	return id, nil
}

// AppendBatch はパイプライン化したMULTI/EXECで全件を追記順に追記する。
// EXECが失敗した場合は1件も追記されない。
func (l *RedisLog) AppendBatch(ctx context.Context, streamKey string, batch []map[string]string) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	pipe := l.rdb.TxPipeline()
	cmds := make([]*redis.StringCmd, 0, len(batch))
	for _, fields := range batch {
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			Values: toValues(fields),
		}))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapAppendErr(err)
	}

	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		id, err := cmd.Result()
		if err != nil {
			return nil, wrapAppendErr(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnsureGroup はXGROUP CREATE MKSTREAMでグループを作成する。
// BUSYGROUP応答（既存グループ）はエラーとして扱わない。
func (l *RedisLog) EnsureGroup(ctx context.Context, streamKey, group string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !IsGroupExistsErr(err) {
		return err
	}
	return nil
}

// Read はXREADGROUPで未配送エントリを読み取る。
// ブロックタイムアウト到達（redis.Nil）は空スライスを返す。
func (l *RedisLog) Read(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: toStrings(msg.Values)})
		}
	}
	return entries, nil
}

// Ack はXACKでエントリを処理済みにする。既ACKのIDは無視される。
func (l *RedisLog) Ack(ctx context.Context, streamKey, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.rdb.XAck(ctx, streamKey, group, ids...).Err()
}

// Pending はXPENDINGでアイドル時間がminIdle以上の未ACKエントリを列挙する。
func (l *RedisLog) Pending(ctx context.Context, streamKey, group string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	exts, err := l.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]PendingEntry, 0, len(exts))
	for _, ext := range exts {
		entries = append(entries, PendingEntry{
			ID:            ext.ID,
			Consumer:      ext.Consumer,
			Idle:          ext.Idle,
			DeliveryCount: ext.RetryCount,
		})
	}
	return entries, nil
}

// Claim はXCLAIMでエントリの所有権を移す。
// 削除済みなどで本文を取得できなかったIDは結果に含まれない。
func (l *RedisLog) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := l.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: toStrings(msg.Values)})
	}
	return entries, nil
}

// IsGroupExistsErr はXGROUP CREATEのBUSYGROUP応答（グループ既存）かを返す。
func IsGroupExistsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// wrapAppendErr は追記失敗をErrLogAppendに分類する。
// errors.Is(err, model.ErrLogAppend) で照合できる。
func wrapAppendErr(err error) error {
	return fmt.Errorf("%w: %v", model.ErrLogAppend, err)
}

// toValues はXADD用にmap[string]stringをmap[string]interface{}へ変換する。
func toValues(fields map[string]string) map[string]interface{} {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return values
}

// toStrings はRedisから返されたフィールド値を文字列マップへ変換する。
// 文字列以外の値は捨てる（ストリームには文字列のみ追記される）。
func toStrings(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}

// compile-time interface check
var _ Log = (*RedisLog)(nil)
