package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ordertracker/internal/middleware"
	"github.com/hitoshi/ordertracker/internal/worker/poll"
)

// PollController はポーリングスケジューラの操作インターフェース。
type PollController interface {
	Status() poll.Status
	// TryStart は実行中フラグを確保できた場合にサイクルの実行関数を返す。
	TryStart() (func(ctx context.Context), bool)
}

// PollHandler はポーリングの状態確認と手動起動のHTTPハンドラー。
type PollHandler struct {
	controller PollController
	// baseCtx は手動起動したサイクルに渡すコンテキスト。リクエスト終了後もサイクルを継続させる
	baseCtx context.Context
	logger  *slog.Logger
}

// NewPollHandler はPollHandlerを生成する。
// baseCtxはアプリケーションの停止時にキャンセルされるコンテキストを渡す。
func NewPollHandler(controller PollController, baseCtx context.Context, logger *slog.Logger) *PollHandler {
	return &PollHandler{controller: controller, baseCtx: baseCtx, logger: logger}
}

// Status はGET /api/poll/status を処理する。直近のサイクル結果と実行中かどうかを返す。
func (h *PollHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// Run はPOST /api/poll/run を処理する。サイクルをバックグラウンドで起動し202を返す。
// 既にサイクルが実行中の場合は409を返す。
func (h *PollHandler) Run(w http.ResponseWriter, r *http.Request) {
	run, ok := h.controller.TryStart()
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusConflict, &middleware.APIError{
			Code:     "POLL_IN_PROGRESS",
			Message:  "ポーリングサイクルは既に実行中です。",
			Category: "state",
			Action:   "実行中のサイクルの完了を待ってから再度お試しください。",
		})
		return
	}

	h.logger.Info("ポーリングサイクルを手動で起動します")
	go run(h.baseCtx)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
