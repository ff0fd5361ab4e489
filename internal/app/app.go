package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/ordertracker/internal/bot"
	"github.com/hitoshi/ordertracker/internal/config"
	"github.com/hitoshi/ordertracker/internal/database"
	"github.com/hitoshi/ordertracker/internal/handler"
	"github.com/hitoshi/ordertracker/internal/logger"
	"github.com/hitoshi/ordertracker/internal/metrics"
	"github.com/hitoshi/ordertracker/internal/middleware"
	"github.com/hitoshi/ordertracker/internal/notify"
	"github.com/hitoshi/ordertracker/internal/platform"
	"github.com/hitoshi/ordertracker/internal/repository"
	"github.com/hitoshi/ordertracker/internal/security"
	"github.com/hitoshi/ordertracker/internal/telegram"
	"github.com/hitoshi/ordertracker/internal/worker/cleanup"
	"github.com/hitoshi/ordertracker/internal/worker/poll"
)

const (
	dbConnectTimeout = 10 * time.Second
	shutdownTimeout  = 30 * time.Second

	// memorySessionMax はREDIS_URL未設定時に保持する会話状態の上限。
	memorySessionMax = 10000

	cleanupInterval = 24 * time.Hour

	// telegramHTTPTimeout はgetUpdatesのロングポーリング（60秒）より長くする。
	telegramHTTPTimeout = 90 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、APP_ENVに応じたレベルでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefaultWithLevel(w, logger.LevelForEnv(cfg.AppEnv))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("app_env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandPoll:
		return runPoll(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// core はserveとpollの両モードで共有する依存関係。
type core struct {
	db          *sql.DB
	telegram    *telegram.Client
	orders      *repository.PostgresOrderRepo
	credentials *repository.PostgresCredentialRepo
	users       *repository.PostgresUserRepo
	adapters    *platform.Registry
	notifier    *notify.Notifier
	loc         *time.Location
}

// newCore はDB接続・Telegram接続・プラットフォームアダプタを初期化する。
// いずれかに到達できない場合は起動時の致命的エラーとして返す。
func newCore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*core, error) {
	if !cfg.IsDevelopment() {
		if err := validateEndpoints(cfg); err != nil {
			return nil, err
		}
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return nil, err
	}
	log.Info("database connection established")

	loc, err := time.LoadLocation(cfg.NotifyTimezone)
	if err != nil {
		log.Warn("タイムゾーンを読み込めないためUTCを使用します",
			slog.String("timezone", cfg.NotifyTimezone),
			slog.String("error", err.Error()),
		)
		loc = time.UTC
	}

	client, err := telegram.NewClient(cfg.BotToken, cfg.TelegramAPIEndpoint,
		newHTTPClient(cfg, telegramHTTPTimeout), log)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &core{
		db:          db,
		telegram:    client,
		orders:      repository.NewPostgresOrderRepo(db),
		credentials: repository.NewPostgresCredentialRepo(db),
		users:       repository.NewPostgresUserRepo(db),
		adapters:    newAdapterRegistry(cfg, log),
		notifier:    notify.NewNotifier(client, loc, log),
		loc:         loc,
	}, nil
}

func (c *core) close() {
	c.db.Close()
}

// newHTTPClient は外部API用のHTTPクライアントを返す。
// 開発環境以外では送信先をhttpsの公開ホストに制限する。
func newHTTPClient(cfg *config.Config, timeout time.Duration) *http.Client {
	if cfg.IsDevelopment() {
		return &http.Client{Timeout: timeout}
	}
	return security.NewEgressClient(timeout)
}

// validateEndpoints は外部APIのURL設定を検証する。
func validateEndpoints(cfg *config.Config) error {
	endpoints := map[string]string{
		"TELEGRAM_API_ENDPOINT": fmt.Sprintf(cfg.TelegramAPIEndpoint, "token", "getMe"),
		"LAZADA_API_URL":        cfg.LazadaAPIURL,
		"SHOPEE_API_URL":        cfg.ShopeeAPIURL,
	}
	for name, endpoint := range endpoints {
		if err := security.ValidateAPIURL(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// newAdapterRegistry は設定からLazada・Shopeeのアダプタを構築する。
// 両アダプタは1つのHTTPクライアントとレートリミッタを共有する。
func newAdapterRegistry(cfg *config.Config, log *slog.Logger) *platform.Registry {
	opts := platform.ClientOptions{
		Timeout:   cfg.PlatformTimeout,
		RateLimit: cfg.PlatformRateLimit,
	}
	httpClient := newHTTPClient(cfg, opts.Timeout)
	limiter := platform.NewLimiter(opts)

	lazada := platform.NewLazadaAdapter(platform.LazadaConfig{
		AppKey:    cfg.LazadaAppKey,
		AppSecret: cfg.LazadaAppSecret,
		APIURL:    cfg.LazadaAPIURL,
	}, httpClient, limiter, opts.Timeout, log)

	shopee := platform.NewShopeeAdapter(platform.ShopeeConfig{
		PartnerID:  cfg.ShopeePartnerID,
		PartnerKey: cfg.ShopeePartnerKey,
		APIURL:     cfg.ShopeeAPIURL,
	}, httpClient, limiter, opts.Timeout, log)

	registry := platform.NewRegistry(lazada, shopee)
	for _, a := range []platform.Adapter{lazada, shopee} {
		if !a.IsConfigured() {
			log.Warn("プラットフォームの認証情報が未設定です",
				slog.String("platform", string(a.Platform())),
			)
		}
	}
	return registry
}

// runServe はボット・ポーリングスケジューラ・運用HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()

	healthChecks := map[string]handler.Pinger{"database": c.db}

	// 会話状態ストア
	var sessions bot.SessionStore
	if cfg.RedisURL != "" {
		redisStore, err := bot.NewRedisSessionStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		sessions = redisStore
		healthChecks["redis"] = handler.PingerFunc(redisStore.Ping)
		log.Info("会話状態をRedisに保存します")
	} else {
		sessions = bot.NewMemorySessionStore(memorySessionMax)
		log.Info("REDIS_URLが未設定のため会話状態をメモリに保持します")
	}

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	c.notifier.SetMetrics(collector)

	// ポーリング
	poller := poll.NewPoller(c.orders, c.credentials, c.adapters, c.notifier, log, cfg.PollMaxConcurrent)
	poller.SetMetrics(collector)

	scheduler, err := poll.NewScheduler(poller, cfg.PollSchedule, log)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(collector)

	cleanupJob := cleanup.NewCleanupJob(c.db, log, cfg.OrderRetentionDays)

	// ボット
	dispatcher := bot.NewDispatcher(bot.Dependencies{
		Messenger:   c.telegram,
		Orders:      c.orders,
		Users:       c.users,
		Credentials: c.credentials,
		Adapters:    c.adapters,
		Sessions:    sessions,
	}, cfg.SessionTTL, c.loc, log)

	// 運用HTTPサーバー
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), log)
	defer rateLimiter.Stop()

	if cfg.AdminAPIToken == "" {
		log.Info("ADMIN_API_TOKENが未設定のため手動ポーリング起動APIを無効にします")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		HealthChecks:   healthChecks,
		MetricsHandler: metrics.Handler(registry),
		PollHandler:    handler.NewPollHandler(scheduler, ctx, log),
		RateLimiter:    rateLimiter,
		AdminToken:     cfg.AdminAPIToken,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, c.telegram.Updates())
	}()
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-serverErr:
		log.Error("server listen error", slog.String("error", err.Error()))
		runErr = fmt.Errorf("server listen error: %w", err)
	}

	c.telegram.StopUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	wg.Wait()
	// 手動起動されたサイクルも含めて完了を待ってからDBを閉じる
	scheduler.Wait()

	if runErr != nil {
		return runErr
	}

	log.Info("application stopped gracefully")
	return nil
}

// runPoll はポーリングサイクルを1回だけ実行して終了する。
// 外部のスケジューラ（cron等）から起動する場合に使用する。
func runPoll(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()

	poller := poll.NewPoller(c.orders, c.credentials, c.adapters, c.notifier, log, cfg.PollMaxConcurrent)

	result, err := poller.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("poll cycle failed: %w", err)
	}

	log.Info("poll cycle completed",
		slog.Int("examined", result.Examined),
		slog.Int("changed", result.Changed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("notified", result.Notified),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// healthcheckPort はヘルスチェック先のポートを環境変数から決定する。
func healthcheckPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "3000"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
