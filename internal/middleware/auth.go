package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// NewBearerAuthMiddleware は Authorization: Bearer <token> ヘッダーを検証するミドルウェアを返す。
// tokenが空の場合はすべてのリクエストを拒否する。
func NewBearerAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, &APIError{
					Code:     "UNAUTHORIZED",
					Message:  "認証に失敗しました。",
					Category: "auth",
					Action:   "正しい管理用トークンを指定してください。",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
