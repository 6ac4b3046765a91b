package middleware

import "net/http"

// corsMethods はこのAPIが公開するメソッド。照会はGET、リフレッシュはPOST、
// lead/noteの編集はPATCHで行う。
const corsMethods = "GET, POST, PATCH, OPTIONS"

// NewCORSMiddleware は管理UIのオリジンに対するCORSミドルウェアを返す。
// このAPIは認証cookieを扱わないため、credentialsは許可しない。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
