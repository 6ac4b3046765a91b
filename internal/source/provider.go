// Package source は外部記事プロバイダからの取得と正規化を提供する。
// NewsAPIとGoogle News RSSの2プロバイダを含み、
// どちらも結果を正規化済みのArticleとして返す。
package source

import (
	"context"

	"github.com/hitoshi/mentiond/internal/model"
)

// Provider は記事プロバイダのインターフェース。
// 接続失敗・非2xx応答はErrUpstreamUnavailable、
// レート制限（429）はErrUpstreamQuotaに分類して返す。
// 検索結果が0件の場合はエラーではなく空スライスを返す。
type Provider interface {
	// Name はプロバイダ名を返す。ログとメトリクスのラベルに使用する。
	Name() string

	// Fetch はキーワードに一致する記事を取得し、正規化して返す。
	// 個々の不正な記事はバッチを失敗させず、デフォルト値で補完される。
	Fetch(ctx context.Context, keyword string) ([]model.Article, error)
}
