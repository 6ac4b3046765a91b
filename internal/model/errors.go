// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// パイプラインのエラー分類に使用する番兵エラー。
// errors.Is で照合できるよう、各層はこれらをラップして返す。
var (
	// ErrUpstreamUnavailable は記事プロバイダへの接続失敗・非2xx応答を表す。
	// 呼び出し側がバックオフ付きで再試行し、上限到達でそのサイクルを断念する。
	ErrUpstreamUnavailable = errors.New("記事プロバイダが利用できません")

	// ErrUpstreamQuota は記事プロバイダのレート制限超過（429）を表す。
	ErrUpstreamQuota = errors.New("記事プロバイダのレート制限を超過しました")

	// ErrLogAppend はストリームログへの追記失敗を表す。
	// 部分的な追記は許容しないため、取り込みサイクル全体の失敗として扱う。
	ErrLogAppend = errors.New("ストリームログへの追記に失敗しました")

	// ErrClassifierTransient は分類器の一時的な失敗（タイムアウト・429・5xx）を表す。
	// エントリを未ACKのまま残し、再配送で再試行する。
	ErrClassifierTransient = errors.New("感情分類器が一時的に失敗しました")

	// ErrClassifierTerminal は分類器の恒久的な失敗（その他の4xx・不正な応答）を表す。
	// エントリは未エンリッチのまま永続化してACKし、以後再試行しない。
	ErrClassifierTerminal = errors.New("感情分類器が恒久的に失敗しました")

	// ErrStoreConflict はストア書き込みの一意制約競合を表す。再試行可能。
	ErrStoreConflict = errors.New("ストアの書き込みが競合しました")

	// ErrStoreUnavailable はストアへの接続失敗・タイムアウトを表す。再試行可能。
	ErrStoreUnavailable = errors.New("ストアが利用できません")
)

// IsRetryableStoreErr はストア書き込みエラーが再試行可能かを返す。
func IsRetryableStoreErr(err error) bool {
	return errors.Is(err, ErrStoreConflict) || errors.Is(err, ErrStoreUnavailable)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidKeyword      = "INVALID_KEYWORD"
	ErrCodeInvalidPagination   = "INVALID_PAGINATION"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamQuota       = "UPSTREAM_QUOTA_EXCEEDED"
	ErrCodeStreamAppendFailed  = "STREAM_APPEND_FAILED"
)

// NewInvalidKeywordError は無効なキーワードエラーを生成する。
func NewInvalidKeywordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKeyword,
		Message:  fmt.Sprintf("無効なキーワードです: %s", reason),
		Category: "validation",
		Action:   "1〜100文字のキーワードを指定してください。",
	}
}

// NewInvalidPaginationError は無効なページネーション指定エラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("無効なページネーション指定です: %s", reason),
		Category: "validation",
		Action:   "limitは1〜100、offsetは0以上の整数を指定してください。",
	}
}

// NewUpstreamUnavailableError はプロバイダ利用不可エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "記事プロバイダへの接続に失敗しました。",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamQuotaError はプロバイダのレート制限エラーを生成する。
func NewUpstreamQuotaError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamQuota,
		Message:  "記事プロバイダのレート制限を超過しました。",
		Category: "upstream",
		Action:   "時間をおいてから再度お試しください。",
	}
}

// NewStreamAppendFailedError はストリーム追記失敗エラーを生成する。
func NewStreamAppendFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStreamAppendFailed,
		Message:  "取得した記事のストリームへの追記に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
