// Package cleanup は追跡を終えた注文の自動削除ジョブを提供する。
// 終端ステータス（delivered / cancelled）のまま保持期間を超過した注文を
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ordertracker/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過した終端注文の自動削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	// RetentionDays は終端ステータスになってからの保持日数。0以下の場合は削除しない。
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は終端ステータスかつlast_updatedがRetentionDays日前より古い注文を削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		j.logger.Debug("保持日数が未設定のため注文クリーンアップをスキップしました")
		return nil
	}

	start := time.Now()

	statuses := make([]string, 0, len(model.TerminalStatuses()))
	for _, s := range model.TerminalStatuses() {
		statuses = append(statuses, string(s))
	}
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM tracked_orders
		WHERE status = ANY($1) AND last_updated < now() - $2::interval`
	result, err := j.db.ExecContext(ctx, query, pq.Array(statuses), interval)
	if err != nil {
		j.logger.Error("注文クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("注文クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("注文クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if j.RetentionDays <= 0 {
		return
	}

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
