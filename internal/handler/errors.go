package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/mentiond/internal/model"
)

// apiErrorResponse はAPIエラーレスポンスの統一フォーマット。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidKeyword, model.ErrCodeInvalidPagination:
		return http.StatusBadRequest
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamQuota:
		return http.StatusTooManyRequests
	case model.ErrCodeStreamAppendFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapRefreshError は取り込みサイクルの番兵エラーをAPIErrorへ変換する。
// キーワード検証エラーはAPIErrorのまま透過させる。
func mapRefreshError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	switch {
	case errors.Is(err, model.ErrUpstreamQuota):
		return model.NewUpstreamQuotaError()
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return model.NewUpstreamUnavailableError()
	case errors.Is(err, model.ErrLogAppend):
		return model.NewStreamAppendFailedError()
	}
	return err
}

// parsePagination はlimit/offsetクエリパラメータを解析する。
// 数値として不正な場合は400を書き込み、okにfalseを返す。
// 未指定（0）の正規化はサービス層が行う。
func parsePagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPaginationError("limitは整数で指定してください"))
			return 0, 0, false
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPaginationError("offsetは整数で指定してください"))
			return 0, 0, false
		}
	}
	return limit, offset, true
}
