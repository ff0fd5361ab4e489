package middleware

import "net/http"

// NewSecurityHeadersMiddleware は運用APIのレスポンスヘッダーを付与するミドルウェアを返す。
// レスポンスはキャッシュさせず、ブラウザでのフレーム表示も禁止する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
