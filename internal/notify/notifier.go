package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/ordertracker/internal/model"
)

// Sender はチャットへのメッセージ送信インターフェース。
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// MetricsRecorder は通知結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordNotification(success bool)
}

// Notifier はステータス変更をユーザーへ通知する。
// 送信失敗はログに記録するのみで、呼び出し元へは返さない。
type Notifier struct {
	sender  Sender
	loc     *time.Location
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewNotifier はNotifierを生成する。locはタイムスタンプの表示に使用する。
func NewNotifier(sender Sender, loc *time.Location, logger *slog.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		sender: sender,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// SetMetrics はメトリクス記録先を設定する。
func (n *Notifier) SetMetrics(m MetricsRecorder) {
	n.metrics = m
}

// Notify は注文の所有者にステータス変更を通知する。送信できた場合はtrueを返す。
// 注文自体は変更しない。
func (n *Notifier) Notify(ctx context.Context, order *model.TrackedOrder, oldStatus, newStatus model.OrderStatus) bool {
	text := FormatStatusChange(order, oldStatus, newStatus, n.now().In(n.loc))

	if err := n.sender.SendMessage(ctx, order.UserID, text); err != nil {
		n.logger.Error("ステータス変更通知の送信に失敗しました",
			slog.String("order_id", order.OrderID),
			slog.String("platform", string(order.Platform)),
			slog.Int64("user_id", order.UserID),
			slog.String("error", err.Error()),
		)
		n.record(false)
		return false
	}

	n.logger.Info("ステータス変更を通知しました",
		slog.String("order_id", order.OrderID),
		slog.String("platform", string(order.Platform)),
		slog.Int64("user_id", order.UserID),
		slog.String("old_status", string(oldStatus)),
		slog.String("new_status", string(newStatus)),
	)
	n.record(true)
	return true
}

func (n *Notifier) record(success bool) {
	if n.metrics != nil {
		n.metrics.RecordNotification(success)
	}
}
