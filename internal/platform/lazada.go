package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/ordertracker/internal/model"
)

const (
	lazadaOrderPath  = "/order/get"
	lazadaOrdersPath = "/orders/get"
	lazadaSignMethod = "sha256"

	// defaultListWindow はListOrdersで開始日時が指定されない場合の取得期間。
	defaultListWindow = 30 * 24 * time.Hour
)

// LazadaConfig はLazada Open Platformのアプリケーション認証情報。
type LazadaConfig struct {
	AppKey    string
	AppSecret string
	APIURL    string
}

// LazadaAdapter はLazada Open Platformの注文APIアダプタ。
type LazadaAdapter struct {
	config LazadaConfig
	client *apiClient
	logger *slog.Logger
	now    func() time.Time
}

// NewLazadaAdapter はLazadaAdapterを生成する。
// limiterは他のアダプタと共有してよい。
func NewLazadaAdapter(cfg LazadaConfig, httpClient *http.Client, limiter *rate.Limiter, timeout time.Duration, logger *slog.Logger) *LazadaAdapter {
	return &LazadaAdapter{
		config: cfg,
		client: newAPIClient(httpClient, limiter, timeout),
		logger: logger,
		now:    time.Now,
	}
}

// Platform はlazadaを返す。
func (a *LazadaAdapter) Platform() model.Platform {
	return model.PlatformLazada
}

// IsConfigured はapp keyとapp secretが両方設定されているかを返す。
func (a *LazadaAdapter) IsConfigured() bool {
	return a.config.AppKey != "" && a.config.AppSecret != ""
}

// LazadaSign はLazadaのリクエスト署名を計算する。
// APIパスに続けてキー昇順のkey+valueを連結し、HMAC-SHA256の16進大文字表現を返す。
// signパラメータ自体は署名対象に含めない。
func LazadaSign(appSecret, apiPath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(apiPath)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// FetchOrder は /order/get を呼び出して注文1件を取得する。
func (a *LazadaAdapter) FetchOrder(ctx context.Context, orderID string, cred *model.Credential) (*model.OrderSnapshot, error) {
	if !a.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: credential is nil", ErrUnavailable)
	}

	data, err := a.call(ctx, lazadaOrderPath, cred, map[string]string{"order_id": orderID})
	if err != nil {
		return nil, err
	}

	if isEmptyPayload(data) {
		return nil, ErrOrderNotFound
	}
	var order lazadaOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("%w: malformed order payload: %v", ErrUnavailable, err)
	}
	if order.OrderID == "" && order.Status == "" {
		return nil, ErrOrderNotFound
	}

	return lazadaSnapshot(&order), nil
}

// ListOrders は /orders/get を呼び出し、fromより後に作成された注文を取得する。
// fromがゼロ値の場合は直近30日間を対象とする。Lazadaでは終了日時は指定しない。
func (a *LazadaAdapter) ListOrders(ctx context.Context, cred *model.Credential, from, to time.Time) ([]*model.OrderSnapshot, error) {
	if !a.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: credential is nil", ErrUnavailable)
	}
	if from.IsZero() {
		from = a.now().Add(-defaultListWindow)
	}

	data, err := a.call(ctx, lazadaOrdersPath, cred, map[string]string{
		"created_after": from.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	if err != nil {
		return nil, err
	}
	if isEmptyPayload(data) {
		return nil, nil
	}

	var list lazadaOrderList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: malformed order list payload: %v", ErrUnavailable, err)
	}

	snapshots := make([]*model.OrderSnapshot, 0, len(list.Orders))
	for i := range list.Orders {
		snapshots = append(snapshots, lazadaSnapshot(&list.Orders[i]))
	}
	return snapshots, nil
}

// call は共通パラメータと署名を付与してAPIを呼び出し、成功時のdataを返す。
func (a *LazadaAdapter) call(ctx context.Context, apiPath string, cred *model.Credential, extra map[string]string) (json.RawMessage, error) {
	params := map[string]string{
		"app_key":      a.config.AppKey,
		"timestamp":    strconv.FormatInt(a.now().UnixMilli(), 10),
		"sign_method":  lazadaSignMethod,
		"access_token": cred.AccessToken,
	}
	for k, v := range extra {
		params[k] = v
	}
	params["sign"] = LazadaSign(a.config.AppSecret, apiPath, params)

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	a.logger.Debug("Lazada APIを呼び出します",
		slog.String("path", apiPath),
		slog.Int64("user_id", cred.UserID),
	)

	body, err := a.client.get(ctx, strings.TrimRight(a.config.APIURL, "/")+apiPath, query)
	if err != nil {
		return nil, err
	}

	var env lazadaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("%w: lazada code=%s message=%s request_id=%s",
			ErrUnavailable, env.Code, env.Message, env.RequestID)
	}
	return env.Data, nil
}

func lazadaSnapshot(o *lazadaOrder) *model.OrderSnapshot {
	orderNumber := string(o.OrderNumber)
	if orderNumber == "" {
		orderNumber = string(o.OrderID)
	}

	items := make([]model.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, model.LineItem{
			Name:     CleanText(it.Name),
			SKU:      it.SKU,
			Quantity: it.Quantity,
			Price:    it.PaidPrice.Decimal,
		})
	}

	return &model.OrderSnapshot{
		OrderID:      string(o.OrderID),
		OrderNumber:  orderNumber,
		Status:       NormalizeLazadaStatus(o.Status),
		RawStatus:    o.Status,
		Items:        items,
		ShippingInfo: shippingInfo(o.TrackingCode, o.ShippingProvider),
		CreatedAt:    parseLazadaTime(o.CreatedAt),
		UpdatedAt:    parseLazadaTime(o.UpdatedAt),
	}
}

func shippingInfo(trackingNumber, carrier string) *model.ShippingInfo {
	info := &model.ShippingInfo{TrackingNumber: CleanText(trackingNumber), Carrier: CleanText(carrier)}
	if info.IsEmpty() {
		return nil
	}
	return info
}

func isEmptyPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// compile-time interface check
var _ Adapter = (*LazadaAdapter)(nil)
