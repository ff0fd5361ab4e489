package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/ordertracker/internal/model"
	"github.com/hitoshi/ordertracker/internal/notify"
	"github.com/hitoshi/ordertracker/internal/platform"
)

// --- モック定義 ---

// mockOrderRepo はOrderRepositoryのテスト用モック。
type mockOrderRepo struct {
	mu               sync.Mutex
	findTrackableFn  func(ctx context.Context, excluded []model.OrderStatus) ([]*model.TrackedOrder, error)
	updateTrackingFn func(ctx context.Context, order *model.TrackedOrder) error
	updates          []model.TrackedOrder
}

func (m *mockOrderRepo) FindTrackable(ctx context.Context, excluded []model.OrderStatus) ([]*model.TrackedOrder, error) {
	if m.findTrackableFn != nil {
		return m.findTrackableFn(ctx, excluded)
	}
	return nil, nil
}

func (m *mockOrderRepo) Create(_ context.Context, _ *model.TrackedOrder) error {
	return nil
}

func (m *mockOrderRepo) UpdateTracking(ctx context.Context, order *model.TrackedOrder) error {
	if m.updateTrackingFn != nil {
		if err := m.updateTrackingFn(ctx, order); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, *order)
	return nil
}

func (m *mockOrderRepo) ListByUserID(_ context.Context, _ int64) ([]*model.TrackedOrder, error) {
	return nil, nil
}

func (m *mockOrderRepo) DeleteForUser(_ context.Context, _ int64, _ string) (string, error) {
	return "", model.ErrNotFound
}

func (m *mockOrderRepo) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// mockCredentialRepo はCredentialRepositoryのテスト用モック。
type mockCredentialRepo struct {
	findFn func(ctx context.Context, userID int64, p model.Platform) (*model.Credential, error)
}

func (m *mockCredentialRepo) FindByUserAndPlatform(ctx context.Context, userID int64, p model.Platform) (*model.Credential, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, p)
	}
	return &model.Credential{UserID: userID, Platform: p, AccessToken: "token"}, nil
}

// mockAdapter はplatform.Adapterのテスト用モック。
type mockAdapter struct {
	platform     model.Platform
	unconfigured bool
	calls        atomic.Int32
	fetchFn      func(ctx context.Context, orderID string, cred *model.Credential) (*model.OrderSnapshot, error)
}

func (m *mockAdapter) Platform() model.Platform { return m.platform }
func (m *mockAdapter) IsConfigured() bool       { return !m.unconfigured }

func (m *mockAdapter) FetchOrder(ctx context.Context, orderID string, cred *model.Credential) (*model.OrderSnapshot, error) {
	m.calls.Add(1)
	return m.fetchFn(ctx, orderID, cred)
}

func (m *mockAdapter) ListOrders(_ context.Context, _ *model.Credential, _, _ time.Time) ([]*model.OrderSnapshot, error) {
	return nil, nil
}

// notification は送信された通知の記録。
type notification struct {
	OrderID   string
	OldStatus model.OrderStatus
	NewStatus model.OrderStatus
}

// mockNotifier はNotifierのテスト用モック。
type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (m *mockNotifier) Notify(_ context.Context, order *model.TrackedOrder, oldStatus, newStatus model.OrderStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{OrderID: order.OrderID, OldStatus: oldStatus, NewStatus: newStatus})
	return true
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockMetrics はMetricsRecorderのテスト用モック。
type mockMetrics struct {
	mu      sync.Mutex
	cycles  int
	skips   map[string]int
	changes int
}

func (m *mockMetrics) RecordCycle(_ time.Duration, _, _, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *mockMetrics) RecordSkip(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skips == nil {
		m.skips = map[string]int{}
	}
	m.skips[reason]++
}

func (m *mockMetrics) RecordStatusChange(_, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes++
}

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// countLogLevel はJSONログのうち指定レベルの行数を返す。
func countLogLevel(t *testing.T, buf *bytes.Buffer, level string) int {
	t.Helper()
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("ログのJSON解析に失敗しました: %v", err)
		}
		if entry["level"] == level {
			n++
		}
	}
	return n
}

var testNow = time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)

func newOrder(id string, p model.Platform, status model.OrderStatus) *model.TrackedOrder {
	return &model.TrackedOrder{
		ID:          "uuid-" + id,
		UserID:      100,
		OrderID:     id,
		Platform:    p,
		Status:      status,
		LastUpdated: testNow.Add(-time.Hour),
		CreatedAt:   testNow.Add(-24 * time.Hour),
	}
}

func newTestPoller(orders *mockOrderRepo, creds *mockCredentialRepo, notifier Notifier, buf *bytes.Buffer, adapters ...platform.Adapter) *Poller {
	p := NewPoller(orders, creds, platform.NewRegistry(adapters...), notifier, newTestLogger(buf), 1)
	p.now = func() time.Time { return testNow }
	return p
}

// --- テスト ---

func TestPoller_RunOnce_ExcludesTerminalStatuses(t *testing.T) {
	var gotExcluded []model.OrderStatus
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, excluded []model.OrderStatus) ([]*model.TrackedOrder, error) {
			gotExcluded = excluded
			return nil, nil
		},
	}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, &mockNotifier{}, &buf)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Examined != 0 {
		t.Errorf("Examined = %d, want 0", result.Examined)
	}

	want := map[model.OrderStatus]bool{model.OrderStatusDelivered: true, model.OrderStatusCancelled: true}
	if len(gotExcluded) != len(want) {
		t.Fatalf("excluded = %v, want delivered と cancelled", gotExcluded)
	}
	for _, s := range gotExcluded {
		if !want[s] {
			t.Errorf("除外対象に想定外のステータス %q が含まれています", s)
		}
	}
}

func TestPoller_RunOnce_FindTrackableError(t *testing.T) {
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return nil, errors.New("db down")
		},
	}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, &mockNotifier{}, &buf)

	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("対象取得の失敗はエラーとして返すべき")
	}
}

func TestPoller_RunOnce_StatusChangeUpdatesAndNotifies(t *testing.T) {
	order := newOrder("LZ-1", model.PlatformLazada, model.OrderStatusPending)
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return []*model.TrackedOrder{order}, nil
		},
	}
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			return &model.OrderSnapshot{
				OrderID:      orderID,
				Status:       model.OrderStatusShipped,
				ShippingInfo: &model.ShippingInfo{TrackingNumber: "TN-1"},
			}, nil
		},
	}
	notifier := &mockNotifier{}
	metrics := &mockMetrics{}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, notifier, &buf, adapter)
	p.SetMetrics(metrics)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if result != (CycleResult{Examined: 1, Changed: 1, Notified: 1}) {
		t.Errorf("result = %+v", result)
	}
	if orders.updateCount() != 1 {
		t.Fatalf("UpdateTracking 呼び出し回数 = %d, want 1", orders.updateCount())
	}
	saved := orders.updates[0]
	if saved.Status != model.OrderStatusShipped {
		t.Errorf("保存されたStatus = %q, want shipped", saved.Status)
	}
	if !saved.LastUpdated.Equal(testNow) {
		t.Errorf("保存されたLastUpdated = %v, want %v", saved.LastUpdated, testNow)
	}
	if saved.ShippingInfo == nil || saved.ShippingInfo.TrackingNumber != "TN-1" {
		t.Errorf("保存されたShippingInfo = %+v", saved.ShippingInfo)
	}
	// 候補の注文自体は書き換えない
	if order.Status != model.OrderStatusPending {
		t.Errorf("候補の注文が変更されています: %q", order.Status)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("通知数 = %d, want 1", len(notifier.sent))
	}
	if n := notifier.sent[0]; n.OldStatus != model.OrderStatusPending || n.NewStatus != model.OrderStatusShipped {
		t.Errorf("通知 = %+v", n)
	}
	if metrics.cycles != 1 || metrics.changes != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestPoller_RunOnce_Idempotent(t *testing.T) {
	// ストアの状態を保持し、2回目のサイクルでは保存済みの値を返す
	var mu sync.Mutex
	stored := newOrder("LZ-1", model.PlatformLazada, model.OrderStatusPending)
	orders := &mockOrderRepo{}
	orders.findTrackableFn = func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
		mu.Lock()
		defer mu.Unlock()
		copied := *stored
		return []*model.TrackedOrder{&copied}, nil
	}
	orders.updateTrackingFn = func(_ context.Context, o *model.TrackedOrder) error {
		mu.Lock()
		defer mu.Unlock()
		copied := *o
		stored = &copied
		return nil
	}
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			return &model.OrderSnapshot{OrderID: orderID, Status: model.OrderStatusProcessing}, nil
		},
	}
	notifier := &mockNotifier{}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, notifier, &buf, adapter)

	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("1回目のRunOnce() error = %v", err)
	}
	second, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("2回目のRunOnce() error = %v", err)
	}

	if orders.updateCount() != 1 {
		t.Errorf("書き込み回数 = %d, want 1（2回目は書き込みなし）", orders.updateCount())
	}
	if notifier.count() != 1 {
		t.Errorf("通知数 = %d, want 1（2回目は通知なし）", notifier.count())
	}
	if second != (CycleResult{Examined: 1}) {
		t.Errorf("2回目の結果 = %+v, want 変更なし", second)
	}
}

func TestPoller_RunOnce_IsolatesFailingOrder(t *testing.T) {
	candidates := []*model.TrackedOrder{
		newOrder("LZ-1", model.PlatformLazada, model.OrderStatusPending),
		newOrder("LZ-2", model.PlatformLazada, model.OrderStatusPending),
		newOrder("LZ-3", model.PlatformLazada, model.OrderStatusPending),
		newOrder("LZ-4", model.PlatformLazada, model.OrderStatusPending),
	}
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return candidates, nil
		},
	}
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			switch orderID {
			case "LZ-2":
				return nil, fmt.Errorf("%w: HTTP 502", platform.ErrUnavailable)
			case "LZ-3":
				panic("unexpected payload")
			}
			return &model.OrderSnapshot{OrderID: orderID, Status: model.OrderStatusShipped}, nil
		},
	}
	notifier := &mockNotifier{}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, notifier, &buf, adapter)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := CycleResult{Examined: 4, Changed: 2, Skipped: 1, Failed: 1, Notified: 2}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}
	if adapter.calls.Load() != 4 {
		t.Errorf("FetchOrder 呼び出し回数 = %d, want 4", adapter.calls.Load())
	}
	for _, u := range orders.updates {
		if u.OrderID == "LZ-2" || u.OrderID == "LZ-3" {
			t.Errorf("失敗した注文 %s が保存されています", u.OrderID)
		}
	}
	if !strings.Contains(buf.String(), "unexpected payload") {
		t.Error("panicの内容がログに記録されていない")
	}
}

func TestPoller_RunOnce_SkipReasons(t *testing.T) {
	noCred := newOrder("LZ-NOCRED", model.PlatformLazada, model.OrderStatusPending)
	noCred.UserID = 200
	candidates := []*model.TrackedOrder{
		noCred,
		newOrder("SP-1", model.PlatformShopee, model.OrderStatusPending),
		newOrder("LZ-GONE", model.PlatformLazada, model.OrderStatusPending),
	}
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return candidates, nil
		},
	}
	creds := &mockCredentialRepo{
		findFn: func(_ context.Context, userID int64, p model.Platform) (*model.Credential, error) {
			if userID == 200 {
				return nil, nil
			}
			return &model.Credential{UserID: userID, Platform: p, AccessToken: "token"}, nil
		},
	}
	lazada := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, _ string, _ *model.Credential) (*model.OrderSnapshot, error) {
			return nil, platform.ErrOrderNotFound
		},
	}
	// Shopeeアダプタは未設定
	shopee := &mockAdapter{platform: model.PlatformShopee, unconfigured: true}
	metrics := &mockMetrics{}
	var buf bytes.Buffer
	p := newTestPoller(orders, creds, &mockNotifier{}, &buf, lazada, shopee)
	p.SetMetrics(metrics)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if result.Skipped != 3 || result.Changed != 0 {
		t.Errorf("result = %+v, want 3件スキップ", result)
	}
	for _, reason := range []string{SkipNoCredential, SkipAdapterNotConfigured, SkipNotFound} {
		if metrics.skips[reason] != 1 {
			t.Errorf("skip[%s] = %d, want 1", reason, metrics.skips[reason])
		}
	}
	if shopee.calls.Load() != 0 {
		t.Error("未設定のアダプタを呼び出してはならない")
	}
}

func TestPoller_RunOnce_ShopeeMissingShopID(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	shopee := platform.NewShopeeAdapter(
		platform.ShopeeConfig{PartnerID: 2001234, PartnerKey: "sp-key", APIURL: srv.URL},
		srv.Client(), nil, 2*time.Second, logger,
	)

	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return []*model.TrackedOrder{newOrder("240301ABC", model.PlatformShopee, model.OrderStatusPending)}, nil
		},
	}
	creds := &mockCredentialRepo{
		findFn: func(_ context.Context, userID int64, p model.Platform) (*model.Credential, error) {
			return &model.Credential{UserID: userID, Platform: p, AccessToken: "sp-token"}, nil
		},
	}
	notifier := &mockNotifier{}
	p := NewPoller(orders, creds, platform.NewRegistry(shopee), notifier, logger, 1)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if requests.Load() != 0 {
		t.Errorf("HTTPリクエスト数 = %d, want 0", requests.Load())
	}
	if got := countLogLevel(t, &buf, "WARN"); got != 1 {
		t.Errorf("警告ログ数 = %d, want 1\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), `"reason":"missing_shop_id"`) {
		t.Error("スキップ理由 missing_shop_id がログに記録されていない")
	}
	if result.Skipped != 1 || orders.updateCount() != 0 || notifier.count() != 0 {
		t.Errorf("result = %+v, updates = %d, notifications = %d", result, orders.updateCount(), notifier.count())
	}
}

func TestPoller_RunOnce_UpdateFailureSuppressesNotification(t *testing.T) {
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return []*model.TrackedOrder{newOrder("LZ-1", model.PlatformLazada, model.OrderStatusPending)}, nil
		},
		updateTrackingFn: func(_ context.Context, _ *model.TrackedOrder) error {
			return errors.New("connection reset")
		},
	}
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			return &model.OrderSnapshot{OrderID: orderID, Status: model.OrderStatusCancelled}, nil
		},
	}
	notifier := &mockNotifier{}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, notifier, &buf, adapter)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Failed != 1 || result.Changed != 0 {
		t.Errorf("result = %+v", result)
	}
	if notifier.count() != 0 {
		t.Error("保存に失敗した場合は通知してはならない")
	}
}

func TestPoller_RunOnce_BoundedConcurrency(t *testing.T) {
	var candidates []*model.TrackedOrder
	for i := 0; i < 12; i++ {
		candidates = append(candidates, newOrder(fmt.Sprintf("LZ-%d", i), model.PlatformLazada, model.OrderStatusPending))
	}
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return candidates, nil
		},
	}

	var current, maxSeen atomic.Int32
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(_ context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			n := current.Add(1)
			defer current.Add(-1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return &model.OrderSnapshot{OrderID: orderID, Status: model.OrderStatusPending}, nil
		},
	}
	var buf bytes.Buffer
	p := NewPoller(orders, &mockCredentialRepo{}, platform.NewRegistry(adapter), &mockNotifier{}, newTestLogger(&buf), 3)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Examined != 12 {
		t.Errorf("Examined = %d, want 12", result.Examined)
	}
	if maxSeen.Load() > 3 {
		t.Errorf("最大同時実行数 = %d, want <= 3", maxSeen.Load())
	}
}

func TestPoller_RunOnce_StopsStartingAfterCancel(t *testing.T) {
	candidates := []*model.TrackedOrder{
		newOrder("LZ-1", model.PlatformLazada, model.OrderStatusPending),
		newOrder("LZ-2", model.PlatformLazada, model.OrderStatusPending),
		newOrder("LZ-3", model.PlatformLazada, model.OrderStatusPending),
	}
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return candidates, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var fetchCtxErr error
	adapter := &mockAdapter{
		platform: model.PlatformLazada,
		fetchFn: func(fetchCtx context.Context, orderID string, _ *model.Credential) (*model.OrderSnapshot, error) {
			// 1件目の処理中に停止シグナルを受け取る
			cancel()
			fetchCtxErr = fetchCtx.Err()
			return &model.OrderSnapshot{OrderID: orderID, Status: model.OrderStatusShipped}, nil
		},
	}
	notifier := &mockNotifier{}
	var buf bytes.Buffer
	p := newTestPoller(orders, &mockCredentialRepo{}, notifier, &buf, adapter)

	result, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if adapter.calls.Load() != 1 {
		t.Errorf("FetchOrder 呼び出し回数 = %d, want 1", adapter.calls.Load())
	}
	if fetchCtxErr != nil {
		t.Errorf("処理中の注文のコンテキストがキャンセルされています: %v", fetchCtxErr)
	}
	// 処理中だった注文は最後まで完了する
	if result.Changed != 1 || orders.updateCount() != 1 || notifier.count() != 1 {
		t.Errorf("result = %+v, updates = %d, notifications = %d", result, orders.updateCount(), notifier.count())
	}
}

// mockSender はnotify.Senderのテスト用モック。
type mockSender struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (m *mockSender) SendMessage(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.msgs == nil {
		m.msgs = map[int64][]string{}
	}
	m.msgs[chatID] = append(m.msgs[chatID], text)
	return nil
}

func TestPoller_LazadaReadyToShip_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order/get" || r.URL.Query().Get("order_id") != "X" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": "0",
			"data": {
				"order_id": "X",
				"status": "ready_to_ship",
				"tracking_code": "LZVN123",
				"shipping_provider": "LEX VN",
				"items": [{"name": "USB Cable", "sku": "USB-1", "quantity": 1, "paid_price": "45000"}]
			}
		}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	lazada := platform.NewLazadaAdapter(
		platform.LazadaConfig{AppKey: "123456", AppSecret: "lz-secret", APIURL: srv.URL},
		srv.Client(), nil, 2*time.Second, logger,
	)

	order := newOrder("X", model.PlatformLazada, model.OrderStatusPending)
	orders := &mockOrderRepo{
		findTrackableFn: func(_ context.Context, _ []model.OrderStatus) ([]*model.TrackedOrder, error) {
			return []*model.TrackedOrder{order}, nil
		},
	}
	sender := &mockSender{}
	notifier := notify.NewNotifier(sender, time.UTC, logger)

	p := NewPoller(orders, &mockCredentialRepo{}, platform.NewRegistry(lazada), notifier, logger, 1)

	result, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Changed != 1 || result.Notified != 1 {
		t.Fatalf("result = %+v\n%s", result, buf.String())
	}

	if orders.updateCount() != 1 || orders.updates[0].Status != model.OrderStatusProcessing {
		t.Fatalf("保存されたステータスが processing ではありません: %+v", orders.updates)
	}

	msgs := sender.msgs[order.UserID]
	if len(msgs) != 1 {
		t.Fatalf("ユーザー %d への通知数 = %d, want 1", order.UserID, len(msgs))
	}
	wantBody := "🛒 CẬP NHẬT ĐƠN HÀNG\n\n" +
		"📋 Mã đơn: X\n" +
		"🏪 Sàn: LAZADA\n\n" +
		"📊 Trạng thái cũ: Chờ xử lý\n" +
		"📦 Trạng thái mới: Đang xử lý\n\n" +
		"🚚 Mã vận đơn: LZVN123\n" +
		"📦 Đơn vị vận chuyển: LEX VN\n" +
		"\n⏰ "
	if !strings.HasPrefix(msgs[0], wantBody) {
		t.Errorf("メッセージが一致しません\ngot:\n%q\nwant prefix:\n%q", msgs[0], wantBody)
	}
	timestamp := strings.TrimPrefix(msgs[0], wantBody)
	if !regexp.MustCompile(`^\d{2}:\d{2}:\d{2} \d{1,2}/\d{1,2}/\d{4}$`).MatchString(timestamp) {
		t.Errorf("タイムスタンプの書式が不正です: %q", timestamp)
	}
}
