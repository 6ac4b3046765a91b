package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestNewsAPIProvider(baseURL string) *NewsAPIProvider {
	n := NewNormalizer(security.NewTextSanitizer())
	n.now = func() time.Time { return fixedNow }
	return NewNewsAPIProvider(&http.Client{Timeout: 5 * time.Second}, testLogger(), nil, n, "test-api-key", baseURL)
}

const newsAPIFixture = `{
	"status": "ok",
	"totalResults": 2,
	"articles": [
		{
			"source": {"id": "technews", "name": "TechNews"},
			"author": "Jane Doe",
			"title": "<b>Acme</b> raises $10M",
			"description": "Acme announced a new funding round today.",
			"url": "https://example.com/acme-funding",
			"urlToImage": "https://example.com/acme.png",
			"publishedAt": "2025-05-20T09:30:00Z",
			"content": "Acme, the robotics startup, said on Tuesday..."
		},
		{
			"source": {"id": null, "name": ""},
			"author": null,
			"title": "Acme expands to Europe",
			"description": "",
			"url": "https://example.com/acme-europe",
			"urlToImage": null,
			"publishedAt": "not-a-date",
			"content": null
		}
	]
}`

// TestNewsAPIFetch_Success は正常応答が記事へ変換・正規化されることを検証する。
func TestNewsAPIFetch_Success(t *testing.T) {
	var gotPath, gotQuery, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotAPIKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, newsAPIFixture)
	}))
	defer server.Close()

	p := newTestNewsAPIProvider(server.URL)
	articles, err := p.Fetch(context.Background(), "acme corp")
	if err != nil {
		t.Fatalf("Fetch() error = %v, want nil", err)
	}

	if gotPath != "/v2/everything" {
		t.Errorf("path = %q, want %q", gotPath, "/v2/everything")
	}
	if gotQuery != "acme corp" {
		t.Errorf("q = %q, want %q", gotQuery, "acme corp")
	}
	if gotAPIKey != "test-api-key" {
		t.Errorf("X-Api-Key = %q, want %q", gotAPIKey, "test-api-key")
	}

	if len(articles) != 2 {
		t.Fatalf("len(articles) = %d, want 2", len(articles))
	}

	first := articles[0]
	if first.Keyword != "acme corp" {
		t.Errorf("Keyword = %q, want %q", first.Keyword, "acme corp")
	}
	if first.Title != "Acme raises $10M" {
		t.Errorf("Title = %q, want %q", first.Title, "Acme raises $10M")
	}
	if first.SourceName != "TechNews" {
		t.Errorf("SourceName = %q, want %q", first.SourceName, "TechNews")
	}
	if first.URL != "https://example.com/acme-funding" {
		t.Errorf("URL = %q, want %q", first.URL, "https://example.com/acme-funding")
	}
	want := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", first.PublishedAt, want)
	}

	// 2件目は欠損フィールドが補完され、不正な日時は固定時刻になる
	second := articles[1]
	if second.SourceName != "Unknown" {
		t.Errorf("SourceName = %q, want %q", second.SourceName, "Unknown")
	}
	if second.Author != "Unknown" {
		t.Errorf("Author = %q, want %q", second.Author, "Unknown")
	}
	if !second.PublishedAt.Equal(fixedNow) {
		t.Errorf("PublishedAt = %v, want %v", second.PublishedAt, fixedNow)
	}
}

// TestNewsAPIFetch_EmptyResults は0件の検索結果が空スライスになることを検証する。
func TestNewsAPIFetch_EmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "ok", "totalResults": 0, "articles": []}`)
	}))
	defer server.Close()

	p := newTestNewsAPIProvider(server.URL)
	articles, err := p.Fetch(context.Background(), "no-hits")
	if err != nil {
		t.Fatalf("Fetch() error = %v, want nil", err)
	}
	if len(articles) != 0 {
		t.Errorf("len(articles) = %d, want 0", len(articles))
	}
}

// TestNewsAPIFetch_QuotaExceeded は429応答がErrUpstreamQuotaに分類されることを検証する。
func TestNewsAPIFetch_QuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestNewsAPIProvider(server.URL)
	_, err := p.Fetch(context.Background(), "acme")
	if !errors.Is(err, model.ErrUpstreamQuota) {
		t.Errorf("Fetch() error = %v, want ErrUpstreamQuota", err)
	}
}

// TestNewsAPIFetch_ServerError は5xx応答がErrUpstreamUnavailableに分類されることを検証する。
func TestNewsAPIFetch_ServerError(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusUnauthorized} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		p := newTestNewsAPIProvider(server.URL)
		_, err := p.Fetch(context.Background(), "acme")
		server.Close()

		if !errors.Is(err, model.ErrUpstreamUnavailable) {
			t.Errorf("status %d: Fetch() error = %v, want ErrUpstreamUnavailable", status, err)
		}
	}
}

// TestNewsAPIFetch_NetworkError は接続失敗がErrUpstreamUnavailableに分類されることを検証する。
func TestNewsAPIFetch_NetworkError(t *testing.T) {
	p := newTestNewsAPIProvider("http://127.0.0.1:1")
	_, err := p.Fetch(context.Background(), "acme")
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrUpstreamUnavailable", err)
	}
}

// TestNewsAPIFetch_MalformedJSON は不正なJSON応答がErrUpstreamUnavailableに分類されることを検証する。
func TestNewsAPIFetch_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "ok", "articles": [`)
	}))
	defer server.Close()

	p := newTestNewsAPIProvider(server.URL)
	_, err := p.Fetch(context.Background(), "acme")
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrUpstreamUnavailable", err)
	}
}
