package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/mentiond/internal/model"
)

// newsAPIMaxResponseSize はNewsAPI応答の最大サイズ（5MB）。
const newsAPIMaxResponseSize = 5 << 20

// NewsAPIProvider はNewsAPIの /v2/everything エンドポイントから記事を取得するProvider。
type NewsAPIProvider struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	normalizer *Normalizer
	apiKey     string
	baseURL    string // テスト時に差し替え可能
}

// インターフェースの実装をコンパイル時に検証
var _ Provider = (*NewsAPIProvider)(nil)

// NewNewsAPIProvider はNewsAPIProviderの新しいインスタンスを生成する。
// limiterがnilの場合はレート制限を行わない。
func NewNewsAPIProvider(httpClient *http.Client, logger *slog.Logger, limiter *rate.Limiter, normalizer *Normalizer, apiKey, baseURL string) *NewsAPIProvider {
	return &NewsAPIProvider{
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
		normalizer: normalizer,
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// Name はプロバイダ名を返す。
func (p *NewsAPIProvider) Name() string {
	return "newsapi"
}

// newsAPIResponse はNewsAPIの検索応答。
type newsAPIResponse struct {
	Status   string           `json:"status"`
	Articles []newsAPIArticle `json:"articles"`
}

// newsAPIArticle はNewsAPI応答内の記事1件。
type newsAPIArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Fetch はキーワードに一致する記事をNewsAPIから取得する。
// 429はErrUpstreamQuota、接続失敗とその他の非200応答はErrUpstreamUnavailableに分類する。
// 検索結果が0件の場合は空スライスを返す（エラーではない）。
func (p *NewsAPIProvider) Fetch(ctx context.Context, keyword string) ([]model.Article, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	reqURL := fmt.Sprintf("%s/v2/everything?q=%s", p.baseURL, url.QueryEscape(keyword))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: リクエストの生成に失敗しました: %v", model.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status=%d", model.ErrUpstreamQuota, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, newsAPIMaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: 応答の読み取りに失敗しました: %v", model.ErrUpstreamUnavailable, err)
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: 応答のパースに失敗しました: %v", model.ErrUpstreamUnavailable, err)
	}

	articles := make([]model.Article, 0, len(parsed.Articles))
	for _, raw := range parsed.Articles {
		a := model.Article{
			Keyword:     keyword,
			SourceName:  raw.Source.Name,
			Author:      raw.Author,
			Title:       raw.Title,
			Description: raw.Description,
			URL:         raw.URL,
			ImageURL:    raw.URLToImage,
			Content:     raw.Content,
		}
		// 公開日時のパース失敗は記事を捨てる理由にはならない。
		// ゼロ値のままNormalizeに渡し、現在時刻で補完させる。
		if raw.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, raw.PublishedAt); err == nil {
				a.PublishedAt = ts
			} else {
				p.logger.Warn("公開日時のパースに失敗しました",
					"provider", p.Name(),
					"publishedAt", raw.PublishedAt,
					"url", raw.URL,
				)
			}
		}
		articles = append(articles, p.normalizer.Normalize(a))
	}

	p.logger.Debug("NewsAPIから記事を取得しました",
		"keyword", keyword,
		"count", len(articles),
	)

	return articles, nil
}
