package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mentiond/internal/metrics"
	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/source"
	"github.com/hitoshi/mentiond/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeProvider はテスト用のProvider。呼び出しごとに登録済みの応答を順に返す。
type fakeProvider struct {
	name      string
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	articles []model.Article
	err      error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, keyword string) ([]model.Article, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("fakeProvider %s: 応答が登録されていません（%d回目の呼び出し）", p.name, p.calls+1)
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp.articles, resp.err
}

var _ source.Provider = (*fakeProvider)(nil)

// fakeLog はテスト用のstream.Log。AppendBatchの呼び出しを記録する。
type fakeLog struct {
	mu       sync.Mutex
	appended [][]map[string]string
	failNext error
	nextID   int
}

func (l *fakeLog) Append(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	ids, err := l.AppendBatch(ctx, streamKey, []map[string]string{fields})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (l *fakeLog) AppendBatch(ctx context.Context, streamKey string, batch []map[string]string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return nil, err
	}
	l.appended = append(l.appended, batch)
	ids := make([]string, 0, len(batch))
	for range batch {
		l.nextID++
		ids = append(ids, fmt.Sprintf("%d-0", l.nextID))
	}
	return ids, nil
}

func (l *fakeLog) EnsureGroup(ctx context.Context, streamKey, group string) error { return nil }

func (l *fakeLog) Read(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error) {
	return nil, nil
}

func (l *fakeLog) Ack(ctx context.Context, streamKey, group string, ids ...string) error { return nil }

func (l *fakeLog) Pending(ctx context.Context, streamKey, group string, minIdle time.Duration, count int64) ([]stream.PendingEntry, error) {
	return nil, nil
}

func (l *fakeLog) Claim(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, ids ...string) ([]stream.Entry, error) {
	return nil, nil
}

var _ stream.Log = (*fakeLog)(nil)

// fakeUpserter はテスト用のMentionUpserter。呼び出された記事を記録する。
type fakeUpserter struct {
	mu       sync.Mutex
	upserted []model.Article
}

func (u *fakeUpserter) UpsertRaw(ctx context.Context, article model.Article, entryID string) (*model.Mention, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.upserted = append(u.upserted, article)
	return &model.Mention{Keyword: article.Keyword, URL: article.URL}, true, nil
}

func testConfig() Config {
	return Config{
		StreamKey:        "mentions_stream",
		FetchMaxAttempts: 3,
		BackoffBase:      1 * time.Millisecond,
		BackoffCap:       5 * time.Millisecond,
	}
}

func article(keyword, title, url string) model.Article {
	return model.Article{
		Keyword:     keyword,
		SourceName:  "TechNews",
		Author:      "Jane Doe",
		Title:       title,
		Description: "The robotics startup Acme announced a major funding round today.",
		URL:         url,
		PublishedAt: time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC),
	}
}

// TestRefresh_AppendsDedupedArticles は複数プロバイダの結果が統合・重複排除されて追記されることを検証する。
func TestRefresh_AppendsDedupedArticles(t *testing.T) {
	p1 := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{articles: []model.Article{
			article("acme", "First", "https://example.com/1"),
			article("acme", "Second", "https://example.com/2"),
		}},
	}}
	p2 := &fakeProvider{name: "googlenews", responses: []fakeResponse{
		{articles: []model.Article{
			article("acme", "First duplicate", "https://example.com/1"),
			article("acme", "Third", "https://example.com/3"),
		}},
	}}
	log := &fakeLog{}
	upserter := &fakeUpserter{}
	ing := NewIngester([]source.Provider{p1, p2}, log, upserter, testLogger(), metrics.Nop{}, testConfig())

	fetched, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if fetched != 4 {
		t.Errorf("fetched = %d, want 4", fetched)
	}
	// URL https://example.com/1 の重複は排除される
	if appended != 3 {
		t.Errorf("appended = %d, want 3", appended)
	}
	if len(log.appended) != 1 {
		t.Fatalf("AppendBatchの呼び出し回数 = %d, want 1", len(log.appended))
	}
	batch := log.appended[0]
	if len(batch) != 3 {
		t.Fatalf("len(batch) = %d, want 3", len(batch))
	}
	if batch[0][stream.FieldURL] != "https://example.com/1" {
		t.Errorf("batch[0].url = %q, want %q", batch[0][stream.FieldURL], "https://example.com/1")
	}
}

// TestRefresh_UpsertsRawForURLArticles はURLを持つ記事のみ先行登録されることを検証する。
func TestRefresh_UpsertsRawForURLArticles(t *testing.T) {
	p := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{articles: []model.Article{
			article("acme", "Article with a URL", "https://example.com/1"),
			article("acme", "Article without a URL", ""),
		}},
	}}
	log := &fakeLog{}
	upserter := &fakeUpserter{}
	ing := NewIngester([]source.Provider{p}, log, upserter, testLogger(), metrics.Nop{}, testConfig())

	_, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	// 追記は両方、先行登録はURLのある記事のみ
	if appended != 2 {
		t.Errorf("appended = %d, want 2", appended)
	}
	if len(upserter.upserted) != 1 {
		t.Fatalf("len(upserted) = %d, want 1", len(upserter.upserted))
	}
	if upserter.upserted[0].URL != "https://example.com/1" {
		t.Errorf("upserted[0].URL = %q, want %q", upserter.upserted[0].URL, "https://example.com/1")
	}
}

// TestRefresh_NoiseArticlesNotUpsertedRaw はノイズ記事が先行登録されないことを検証する。
// ノイズ記事はストリームには追記され、ワーカーが永続化せずにACKする。
func TestRefresh_NoiseArticlesNotUpsertedRaw(t *testing.T) {
	noise := model.Article{
		Keyword:     "acme",
		Title:       "short",
		Description: "x",
		URL:         "https://example.com/noise",
	}
	p := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{articles: []model.Article{
			noise,
			article("acme", "Article with a URL", "https://example.com/1"),
		}},
	}}
	log := &fakeLog{}
	upserter := &fakeUpserter{}
	ing := NewIngester([]source.Provider{p}, log, upserter, testLogger(), metrics.Nop{}, testConfig())

	_, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	// 追記は両方、先行登録はノイズでない記事のみ
	if appended != 2 {
		t.Errorf("appended = %d, want 2", appended)
	}
	if len(upserter.upserted) != 1 {
		t.Fatalf("len(upserted) = %d, want 1", len(upserter.upserted))
	}
	if upserter.upserted[0].URL != "https://example.com/1" {
		t.Errorf("upserted[0].URL = %q, want %q", upserter.upserted[0].URL, "https://example.com/1")
	}
}

// TestRefresh_RetriesTransientFetchFailure は一時的な取得失敗がバックオフ付きで再試行されることを検証する。
func TestRefresh_RetriesTransientFetchFailure(t *testing.T) {
	p := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
		{err: fmt.Errorf("%w: status=502", model.ErrUpstreamUnavailable)},
		{articles: []model.Article{article("acme", "Recovered", "https://example.com/1")}},
	}}
	log := &fakeLog{}
	ing := NewIngester([]source.Provider{p}, log, &fakeUpserter{}, testLogger(), metrics.Nop{}, testConfig())

	fetched, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if p.calls != 3 {
		t.Errorf("Fetchの呼び出し回数 = %d, want 3", p.calls)
	}
	if fetched != 1 || appended != 1 {
		t.Errorf("(fetched, appended) = (%d, %d), want (1, 1)", fetched, appended)
	}
}

// TestRefresh_PartialProviderFailure は一部プロバイダの失敗が許容されることを検証する。
func TestRefresh_PartialProviderFailure(t *testing.T) {
	failing := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
	}}
	healthy := &fakeProvider{name: "googlenews", responses: []fakeResponse{
		{articles: []model.Article{article("acme", "Only result", "https://example.com/1")}},
	}}
	log := &fakeLog{}
	ing := NewIngester([]source.Provider{failing, healthy}, log, &fakeUpserter{}, testLogger(), metrics.Nop{}, testConfig())

	fetched, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if fetched != 1 || appended != 1 {
		t.Errorf("(fetched, appended) = (%d, %d), want (1, 1)", fetched, appended)
	}
}

// TestRefresh_AllProvidersFail は全プロバイダの失敗がサイクルの失敗になることを検証する。
func TestRefresh_AllProvidersFail(t *testing.T) {
	responses := []fakeResponse{
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
		{err: fmt.Errorf("%w: status=500", model.ErrUpstreamUnavailable)},
		{err: fmt.Errorf("%w: status=429", model.ErrUpstreamQuota)},
	}
	p1 := &fakeProvider{name: "newsapi", responses: responses}
	p2 := &fakeProvider{name: "googlenews", responses: responses}
	log := &fakeLog{}
	ing := NewIngester([]source.Provider{p1, p2}, log, &fakeUpserter{}, testLogger(), metrics.Nop{}, testConfig())

	_, _, err := ing.Refresh(context.Background(), "acme")
	if err == nil {
		t.Fatal("Refresh() error = nil, want error")
	}
	if !errors.Is(err, model.ErrUpstreamQuota) {
		t.Errorf("Refresh() error = %v, want ErrUpstreamQuota", err)
	}
	if len(log.appended) != 0 {
		t.Errorf("AppendBatchの呼び出し回数 = %d, want 0", len(log.appended))
	}
}

// TestRefresh_AppendFailureFailsCycle はストリーム追記の失敗がサイクルの失敗になることを検証する。
func TestRefresh_AppendFailureFailsCycle(t *testing.T) {
	p := &fakeProvider{name: "newsapi", responses: []fakeResponse{
		{articles: []model.Article{article("acme", "Some article", "https://example.com/1")}},
	}}
	log := &fakeLog{failNext: fmt.Errorf("%w: connection refused", model.ErrLogAppend)}
	ing := NewIngester([]source.Provider{p}, log, &fakeUpserter{}, testLogger(), metrics.Nop{}, testConfig())

	_, appended, err := ing.Refresh(context.Background(), "acme")
	if !errors.Is(err, model.ErrLogAppend) {
		t.Errorf("Refresh() error = %v, want ErrLogAppend", err)
	}
	if appended != 0 {
		t.Errorf("appended = %d, want 0", appended)
	}
}

// TestRefresh_NoArticles は0件の取得結果が正常終了することを検証する。
func TestRefresh_NoArticles(t *testing.T) {
	p := &fakeProvider{name: "newsapi", responses: []fakeResponse{{articles: nil}}}
	log := &fakeLog{}
	ing := NewIngester([]source.Provider{p}, log, &fakeUpserter{}, testLogger(), metrics.Nop{}, testConfig())

	fetched, appended, err := ing.Refresh(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil", err)
	}
	if fetched != 0 || appended != 0 {
		t.Errorf("(fetched, appended) = (%d, %d), want (0, 0)", fetched, appended)
	}
	if len(log.appended) != 0 {
		t.Errorf("AppendBatchの呼び出し回数 = %d, want 0", len(log.appended))
	}
}
