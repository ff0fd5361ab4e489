// Package poll は追跡注文のバックグラウンドポーリング処理を提供する。
// 注文ステータスの取得・変更検出・通知を行うPollerと、
// cron式に従ってサイクルを起動するSchedulerを含む。
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/ordertracker/internal/model"
	"github.com/hitoshi/ordertracker/internal/platform"
	"github.com/hitoshi/ordertracker/internal/repository"
)

// スキップ理由。ログとメトリクスのラベルに使用する。
const (
	SkipNoCredential         = "no_credential"
	SkipAdapterNotConfigured = "adapter_not_configured"
	SkipMissingShopID        = "missing_shop_id"
	SkipNotFound             = "not_found"
	SkipUnavailable          = "unavailable"
)

// Notifier はステータス変更通知のインターフェース。
// 送信に失敗してもエラーは返さず、送信できたかどうかのみを返す。
type Notifier interface {
	Notify(ctx context.Context, order *model.TrackedOrder, oldStatus, newStatus model.OrderStatus) bool
}

// MetricsRecorder はポーリングのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCycle(duration time.Duration, examined, changed, skipped, failed int)
	RecordSkip(platform, reason string)
	RecordStatusChange(platform, newStatus string)
}

// CycleResult はポーリング1サイクルの集計結果。
type CycleResult struct {
	Examined int `json:"examined"`
	Changed  int `json:"changed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeChanged
	outcomeSkipped
	outcomeFailed
)

// Poller は追跡中の注文を1件ずつ確認し、ステータス変更を保存・通知する。
type Poller struct {
	orders         repository.OrderRepository
	credentials    repository.CredentialRepository
	adapters       *platform.Registry
	notifier       Notifier
	logger         *slog.Logger
	maxConcurrency int
	metrics        MetricsRecorder
	now            func() time.Time
}

// NewPoller はPollerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は逐次処理（1）とする。
func NewPoller(
	orders repository.OrderRepository,
	credentials repository.CredentialRepository,
	adapters *platform.Registry,
	notifier Notifier,
	logger *slog.Logger,
	maxConcurrency int,
) *Poller {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Poller{
		orders:         orders,
		credentials:    credentials,
		adapters:       adapters,
		notifier:       notifier,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// SetMetrics はメトリクスの記録先を設定する。
func (p *Poller) SetMetrics(m MetricsRecorder) {
	p.metrics = m
}

// RunOnce はポーリング対象の注文を取得し、1サイクル分の確認を実行する。
// 対象の列挙に失敗した場合のみエラーを返す。個々の注文の失敗はログに記録して集計する。
// ctxがキャンセルされると新しい注文の処理は開始しないが、処理中の注文は完了させる。
func (p *Poller) RunOnce(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var result CycleResult

	orders, err := p.orders.FindTrackable(ctx, model.TerminalStatuses())
	if err != nil {
		return result, fmt.Errorf("ポーリング対象の取得に失敗: %w", err)
	}

	if len(orders) == 0 {
		p.logger.Info("ポーリング対象の注文はありません")
		p.recordCycle(time.Since(start), result)
		return result, nil
	}

	p.logger.Info("ポーリングサイクルを開始します",
		slog.Int("order_count", len(orders)),
		slog.Int("max_concurrency", p.maxConcurrency),
	)

	// 処理中の注文はサイクル停止後も完了させる。各アダプタ呼び出しはタイムアウトで制限される
	workCtx := context.WithoutCancel(ctx)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.maxConcurrency)
	)

loop:
	for _, order := range orders {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break loop
		}

		wg.Add(1)
		go func(o *model.TrackedOrder) {
			defer wg.Done()
			defer func() { <-sem }()

			res, notified := p.processOrder(workCtx, o)

			mu.Lock()
			defer mu.Unlock()
			result.Examined++
			switch res {
			case outcomeChanged:
				result.Changed++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Failed++
			}
			if notified {
				result.Notified++
			}
		}(order)
	}

	wg.Wait()

	duration := time.Since(start)
	if ctx.Err() != nil && result.Examined < len(orders) {
		p.logger.Warn("ポーリングサイクルを中断しました",
			slog.Int("order_count", len(orders)),
			slog.Int("examined", result.Examined),
		)
	}
	p.logger.Info("ポーリングサイクルが完了しました",
		slog.Int("examined", result.Examined),
		slog.Int("changed", result.Changed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("notified", result.Notified),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	p.recordCycle(duration, result)

	return result, nil
}

// processOrder は注文1件のステータスを確認する。
// panicを含むあらゆる失敗はこの注文の中に閉じ込め、他の注文の処理に影響させない。
func (p *Poller) processOrder(ctx context.Context, order *model.TrackedOrder) (res outcome, notified bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("注文の確認中にpanicが発生しました",
				slog.String("order_id", order.OrderID),
				slog.String("platform", string(order.Platform)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			res, notified = outcomeFailed, false
		}
	}()

	cred, err := p.credentials.FindByUserAndPlatform(ctx, order.UserID, order.Platform)
	if err != nil {
		p.logger.Error("認証情報の取得に失敗しました",
			slog.String("order_id", order.OrderID),
			slog.String("platform", string(order.Platform)),
			slog.Int64("user_id", order.UserID),
			slog.String("error", err.Error()),
		)
		return outcomeFailed, false
	}
	if cred == nil {
		return p.skip(order, SkipNoCredential, "認証情報が未登録のため注文をスキップしました", nil), false
	}

	adapter, ok := p.adapters.Get(order.Platform)
	if !ok || !adapter.IsConfigured() {
		return p.skip(order, SkipAdapterNotConfigured, "プラットフォームのAPI設定が未完了のため注文をスキップしました", nil), false
	}

	if order.Platform == model.PlatformShopee && !cred.HasShopID() {
		return p.skip(order, SkipMissingShopID, "Shopeeのshop_idが未設定のため注文をスキップしました", nil), false
	}

	snap, err := adapter.FetchOrder(ctx, order.OrderID, cred)
	if err != nil {
		reason := SkipUnavailable
		switch {
		case errors.Is(err, platform.ErrOrderNotFound):
			reason = SkipNotFound
		case platform.IsMissingShopID(err):
			reason = SkipMissingShopID
		}
		return p.skip(order, reason, "注文ステータスの取得に失敗したため注文をスキップしました", err), false
	}

	if snap.Status == order.Status {
		p.logger.Debug("注文ステータスに変更はありません",
			slog.String("order_id", order.OrderID),
			slog.String("platform", string(order.Platform)),
			slog.String("status", string(order.Status)),
		)
		return outcomeUnchanged, false
	}

	updated := *order
	oldStatus := updated.ApplySnapshot(snap, p.now())

	if err := p.orders.UpdateTracking(ctx, &updated); err != nil {
		p.logger.Error("注文ステータスの保存に失敗しました",
			slog.String("order_id", order.OrderID),
			slog.String("platform", string(order.Platform)),
			slog.String("old_status", string(oldStatus)),
			slog.String("new_status", string(updated.Status)),
			slog.String("error", err.Error()),
		)
		return outcomeFailed, false
	}

	p.logger.Info("注文ステータスが変更されました",
		slog.String("order_id", order.OrderID),
		slog.String("platform", string(order.Platform)),
		slog.Int64("user_id", order.UserID),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(updated.Status)),
	)
	if p.metrics != nil {
		p.metrics.RecordStatusChange(string(order.Platform), string(updated.Status))
	}

	notified = p.notifier.Notify(ctx, &updated, oldStatus, updated.Status)
	return outcomeChanged, notified
}

func (p *Poller) skip(order *model.TrackedOrder, reason, msg string, err error) outcome {
	attrs := []any{
		slog.String("order_id", order.OrderID),
		slog.String("platform", string(order.Platform)),
		slog.Int64("user_id", order.UserID),
		slog.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	p.logger.Warn(msg, attrs...)

	if p.metrics != nil {
		p.metrics.RecordSkip(string(order.Platform), reason)
	}
	return outcomeSkipped
}

func (p *Poller) recordCycle(duration time.Duration, r CycleResult) {
	if p.metrics != nil {
		p.metrics.RecordCycle(duration, r.Examined, r.Changed, r.Skipped, r.Failed)
	}
}
