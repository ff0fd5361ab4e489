package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

// Runner はポーリング1サイクルの実行インターフェース。
type Runner interface {
	RunOnce(ctx context.Context) (CycleResult, error)
}

// TriggerMetrics はトリガーのメトリクス記録インターフェース。
type TriggerMetrics interface {
	RecordTriggerSkipped()
}

// LastRun は直近に完了したサイクルの情報。
type LastRun struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Result     CycleResult `json:"result"`
	Error      string      `json:"error,omitempty"`
}

// Status はスケジューラの現在の状態。/api/poll/statusで公開する。
type Status struct {
	Schedule        string    `json:"schedule"`
	Running         bool      `json:"running"`
	NextRun         time.Time `json:"next_run"`
	SkippedTriggers int64     `json:"skipped_triggers"`
	LastRun         *LastRun  `json:"last_run"`
}

// Scheduler はcron式に従ってポーリングサイクルを起動する。
// 同時に実行されるサイクルは常に1つまで。
type Scheduler struct {
	runner   Runner
	spec     string
	schedule cron.Schedule
	logger   *slog.Logger
	metrics  TriggerMetrics
	now      func() time.Time

	running         atomic.Bool
	skippedTriggers atomic.Int64
	// cycles は手動起動を含む実行中のサイクルを追跡する
	cycles sync.WaitGroup

	mu      sync.RWMutex
	lastRun *LastRun
}

// NewScheduler はSchedulerを生成する。specは5フィールドの標準cron式。
func NewScheduler(runner Runner, spec string, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron式の解析に失敗: %w", err)
	}
	return &Scheduler{
		runner:   runner,
		spec:     spec,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetMetrics はメトリクスの記録先を設定する。
func (s *Scheduler) SetMetrics(m TriggerMetrics) {
	s.metrics = m
}

// Start はコンテキストがキャンセルされるまでスケジュールに従ってサイクルを実行する。
// サイクルは同期的に実行するため、キャンセル時は実行中のサイクルの完了後に戻る。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.String("schedule", s.spec),
	)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("ポーリングスケジューラを停止しました")
			return
		case <-timer.C:
			s.TryRun(ctx)
		}
	}
}

// TryRun はサイクルを1回実行する。別のサイクルが実行中の場合は何もせずfalseを返す。
func (s *Scheduler) TryRun(ctx context.Context) bool {
	run, ok := s.TryStart()
	if !ok {
		return false
	}
	run(ctx)
	return true
}

// TryStart は実行中フラグを同期的に確保し、サイクルを実行する関数を返す。
// 別のサイクルが実行中の場合はfalseを返す。返された関数は必ず1回呼び出すこと。
func (s *Scheduler) TryStart() (func(ctx context.Context), bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.skippedTriggers.Add(1)
		s.logger.Warn("前回のポーリングサイクルが実行中のため今回の起動をスキップしました")
		if s.metrics != nil {
			s.metrics.RecordTriggerSkipped()
		}
		return nil, false
	}
	s.cycles.Add(1)

	return func(ctx context.Context) {
		defer s.cycles.Done()
		defer s.running.Store(false)
		s.runCycle(ctx)
	}, true
}

// Wait は実行中のサイクル（手動起動を含む）が完了するまで待つ。
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	run := &LastRun{StartedAt: s.now()}
	result, err := s.runner.RunOnce(ctx)
	run.FinishedAt = s.now()
	run.Result = result
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("ポーリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
}

// Status はスケジューラの現在の状態を返す。
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	var last *LastRun
	if s.lastRun != nil {
		copied := *s.lastRun
		last = &copied
	}
	s.mu.RUnlock()

	return Status{
		Schedule:        s.spec,
		Running:         s.running.Load(),
		NextRun:         s.schedule.Next(s.now()),
		SkippedTriggers: s.skippedTriggers.Load(),
		LastRun:         last,
	}
}
