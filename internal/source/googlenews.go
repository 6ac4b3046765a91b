package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/security"
)

// GoogleNewsProvider はGoogle News RSSの検索フィードから記事を取得するProvider。
// ベースURLは運用者が設定できるため、リクエストはSSRFガード付きクライアントで行う。
type GoogleNewsProvider struct {
	ssrfGuard  security.SSRFGuardService
	logger     *slog.Logger
	limiter    *rate.Limiter
	normalizer *Normalizer
	baseURL    string
	timeout    time.Duration
	maxSize    int64
}

// インターフェースの実装をコンパイル時に検証
var _ Provider = (*GoogleNewsProvider)(nil)

// NewGoogleNewsProvider はGoogleNewsProviderの新しいインスタンスを生成する。
// limiterがnilの場合はレート制限を行わない。
func NewGoogleNewsProvider(ssrfGuard security.SSRFGuardService, logger *slog.Logger, limiter *rate.Limiter, normalizer *Normalizer, baseURL string, timeout time.Duration, maxSize int64) *GoogleNewsProvider {
	return &GoogleNewsProvider{
		ssrfGuard:  ssrfGuard,
		logger:     logger,
		limiter:    limiter,
		normalizer: normalizer,
		baseURL:    baseURL,
		timeout:    timeout,
		maxSize:    maxSize,
	}
}

// Name はプロバイダ名を返す。
func (p *GoogleNewsProvider) Name() string {
	return "googlenews"
}

// Fetch はキーワードの検索結果RSSフィードを取得し、記事へ変換する。
// フィードのパース失敗もErrUpstreamUnavailableとして扱う。
func (p *GoogleNewsProvider) Fetch(ctx context.Context, keyword string) ([]model.Article, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	feedURL := fmt.Sprintf("%s/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en", p.baseURL, url.QueryEscape(keyword))
	if err := p.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("%w: RSSエンドポイントのURLが不正です: %v", model.ErrUpstreamUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: リクエストの生成に失敗しました: %v", model.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	client := p.ssrfGuard.NewSafeClient(p.timeout, p.maxSize)
	resp, err := client.Do(req)
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

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, p.maxSize))
	if err != nil {
		return nil, fmt.Errorf("%w: フィードのパースに失敗しました: %v", model.ErrUpstreamUnavailable, err)
	}

	articles := make([]model.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := model.Article{
			Keyword:     keyword,
			SourceName:  feed.Title,
			Title:       item.Title,
			Description: item.Description,
			URL:         item.Link,
		}
		if item.Author != nil {
			a.Author = item.Author.Name
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		if item.Image != nil {
			a.ImageURL = item.Image.URL
		}
		articles = append(articles, p.normalizer.Normalize(a))
	}

	p.logger.Debug("Google News RSSから記事を取得しました",
		"keyword", keyword,
		"count", len(articles),
	)

	return articles, nil
}
