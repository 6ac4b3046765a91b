// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mentiond/internal/model"
)

// MentionServiceInterface はメンションハンドラーが必要とするサービスインターフェース。
type MentionServiceInterface interface {
	// ListByKeyword はキーワードのメンション一覧と総数をpublished_at降順で返す。
	ListByKeyword(ctx context.Context, keyword string, limit, offset int) ([]*model.Mention, int, error)
	// ListLeads はリードとしてマークされたメンション一覧を返す。
	ListLeads(ctx context.Context, limit, offset int) ([]*model.Mention, error)
}

// RefresherInterface はオンデマンドの取り込みサイクル実行インターフェース。
type RefresherInterface interface {
	// Refresh はキーワード1件の取り込みサイクルを同期実行する。
	Refresh(ctx context.Context, keyword string) (fetched, appended int, err error)
}

// MentionHandler はメンション照会とリフレッシュのHTTPハンドラー。
type MentionHandler struct {
	service   MentionServiceInterface
	refresher RefresherInterface
}

// NewMentionHandler はMentionHandlerを生成する。
func NewMentionHandler(service MentionServiceInterface, refresher RefresherInterface) *MentionHandler {
	return &MentionHandler{
		service:   service,
		refresher: refresher,
	}
}

// --- レスポンス型 ---

// mentionResponse はメンション1件のレスポンス。
// 未エンリッチの行は感情フィールドがnullになる。
type mentionResponse struct {
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
	SentimentLabel *string    `json:"sentiment_label"`
	SentimentScore *float64   `json:"sentiment_score"`
	Lead           bool       `json:"lead"`
	Note           string     `json:"note,omitempty"`
	InsertedAt     time.Time  `json:"inserted_at"`
	EnrichedAt     *time.Time `json:"enriched_at"`
}

// mentionListResponse はキーワード別メンション一覧のレスポンス。
type mentionListResponse struct {
	Keyword  string            `json:"keyword"`
	Count    int               `json:"count"`
	Mentions []mentionResponse `json:"mentions"`
}

// leadListResponse はリード一覧のレスポンス。
type leadListResponse struct {
	Leads []mentionResponse `json:"leads"`
}

// refreshResponse はリフレッシュ実行のレスポンス。
type refreshResponse struct {
	Keyword  string `json:"keyword"`
	Fetched  int    `json:"fetched"`
	Appended int    `json:"appended"`
}

// toMentionResponse はMentionをレスポンス表現へ変換する。
func toMentionResponse(m *model.Mention) mentionResponse {
	resp := mentionResponse{
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
		SentimentScore: m.SentimentScore,
		Lead:           m.Lead,
		Note:           m.Note,
		InsertedAt:     m.InsertedAt,
		EnrichedAt:     m.EnrichedAt,
	}
	if m.SentimentLabel != "" {
		label := string(m.SentimentLabel)
		resp.SentimentLabel = &label
	}
	return resp
}

func toMentionResponses(mentions []*model.Mention) []mentionResponse {
	out := make([]mentionResponse, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, toMentionResponse(m))
	}
	return out
}

// ListMentions はキーワードのメンション一覧を取得する。
// GET /api/keywords/{keyword}/mentions?limit=&offset=
func (h *MentionHandler) ListMentions(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")
	limit, offset, ok := parsePagination(w, r)
	if !ok {
		return
	}

	mentions, count, err := h.service.ListByKeyword(r.Context(), keyword, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mentionListResponse{
		Keyword:  keyword,
		Count:    count,
		Mentions: toMentionResponses(mentions),
	})
}

// ListLeads はリード一覧を取得する。
// GET /api/leads?limit=&offset=
func (h *MentionHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePagination(w, r)
	if !ok {
		return
	}

	leads, err := h.service.ListLeads(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(leadListResponse{
		Leads: toMentionResponses(leads),
	})
}

// RefreshKeyword はキーワードの取り込みサイクルを同期実行する。
// POST /api/keywords/{keyword}/refresh
func (h *MentionHandler) RefreshKeyword(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")

	fetched, appended, err := h.refresher.Refresh(r.Context(), keyword)
	if err != nil {
		handleServiceError(w, mapRefreshError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refreshResponse{
		Keyword:  keyword,
		Fetched:  fetched,
		Appended: appended,
	})
}
