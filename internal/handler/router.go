// Package handler は運用向けHTTPエンドポイントを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/ordertracker/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ヘルスチェック対象（名前 → Pinger）
	HealthChecks map[string]Pinger

	// Prometheusスクレイプ用ハンドラー
	MetricsHandler http.Handler

	// ポーリング
	PollHandler *PollHandler

	// 運用API
	RateLimiter *middleware.RateLimiter
	// AdminToken が空の場合、手動起動エンドポイントは登録しない
	AdminToken string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → (/api/*) SecurityHeaders → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks, deps.Logger))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	if deps.PollHandler != nil {
		r.Route("/api/poll", func(r chi.Router) {
			r.Use(middleware.NewSecurityHeadersMiddleware())
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			r.Get("/status", deps.PollHandler.Status)

			if deps.AdminToken != "" {
				r.Group(func(r chi.Router) {
					r.Use(middleware.NewBearerAuthMiddleware(deps.AdminToken))
					if deps.RateLimiter != nil {
						r.Use(deps.RateLimiter.TriggerMiddleware())
					}
					r.Post("/run", deps.PollHandler.Run)
				})
			}
		})
	}

	return r
}
