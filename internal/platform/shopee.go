package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/ordertracker/internal/model"
)

const (
	shopeeOrderDetailPath = "/api/v2/order/get_order_detail"
	shopeeOrderListPath   = "/api/v2/order/get_order_list"
	shopeeOptionalFields  = "buyer_user_id,buyer_username,item_list,recipient_address"
	shopeePageSize        = 100
)

// ShopeeConfig はShopee Open Platformのパートナー認証情報。
type ShopeeConfig struct {
	PartnerID  int64
	PartnerKey string
	APIURL     string
}

// ShopeeAdapter はShopee Open API v2の注文APIアダプタ。
type ShopeeAdapter struct {
	config ShopeeConfig
	client *apiClient
	logger *slog.Logger
	now    func() time.Time
}

// NewShopeeAdapter はShopeeAdapterを生成する。
func NewShopeeAdapter(cfg ShopeeConfig, httpClient *http.Client, limiter *rate.Limiter, timeout time.Duration, logger *slog.Logger) *ShopeeAdapter {
	return &ShopeeAdapter{
		config: cfg,
		client: newAPIClient(httpClient, limiter, timeout),
		logger: logger,
		now:    time.Now,
	}
}

// Platform はshopeeを返す。
func (a *ShopeeAdapter) Platform() model.Platform {
	return model.PlatformShopee
}

// IsConfigured はpartner idとpartner keyが両方設定されているかを返す。
func (a *ShopeeAdapter) IsConfigured() bool {
	return a.config.PartnerID != 0 && a.config.PartnerKey != ""
}

// ShopeeSign はShopeeのショップ単位APIの署名を計算する。
// partner_id + APIパス + timestamp + access_token + shop_id をHMAC-SHA256し、16進小文字で返す。
func ShopeeSign(partnerKey string, partnerID int64, apiPath string, timestamp int64, accessToken string, shopID int64) string {
	base := strconv.FormatInt(partnerID, 10) + apiPath + strconv.FormatInt(timestamp, 10) + accessToken + strconv.FormatInt(shopID, 10)
	mac := hmac.New(sha256.New, []byte(partnerKey))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// FetchOrder は get_order_detail を呼び出して注文1件を取得する。
// 認証情報にshop_idがない場合はリクエストを送信せずにエラーを返す。
func (a *ShopeeAdapter) FetchOrder(ctx context.Context, orderID string, cred *model.Credential) (*model.OrderSnapshot, error) {
	if !a.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := checkShopeeCredential(cred); err != nil {
		return nil, err
	}

	data, err := a.call(ctx, shopeeOrderDetailPath, cred, url.Values{
		"order_sn_list":            {orderID},
		"response_optional_fields": {shopeeOptionalFields},
	})
	if err != nil {
		return nil, err
	}
	if isEmptyPayload(data) {
		return nil, ErrOrderNotFound
	}

	var detail shopeeOrderDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("%w: malformed order payload: %v", ErrUnavailable, err)
	}
	if len(detail.OrderList) == 0 {
		return nil, ErrOrderNotFound
	}

	return shopeeSnapshot(&detail.OrderList[0]), nil
}

// ListOrders は get_order_list で更新日時が期間内の注文番号を取得し、
// 1件ずつ get_order_detail を呼び出して詳細を取得する。詳細の取得に失敗した注文は除外する。
func (a *ShopeeAdapter) ListOrders(ctx context.Context, cred *model.Credential, from, to time.Time) ([]*model.OrderSnapshot, error) {
	if !a.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := checkShopeeCredential(cred); err != nil {
		return nil, err
	}

	now := a.now()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = now.Add(-defaultListWindow)
	}

	data, err := a.call(ctx, shopeeOrderListPath, cred, url.Values{
		"time_range_field": {"update_time"},
		"time_from":        {strconv.FormatInt(from.Unix(), 10)},
		"time_to":          {strconv.FormatInt(to.Unix(), 10)},
		"page_size":        {strconv.Itoa(shopeePageSize)},
	})
	if err != nil {
		return nil, err
	}
	if isEmptyPayload(data) {
		return nil, nil
	}

	var list shopeeOrderList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: malformed order list payload: %v", ErrUnavailable, err)
	}

	snapshots := make([]*model.OrderSnapshot, 0, len(list.OrderList))
	for _, entry := range list.OrderList {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}
		snap, err := a.FetchOrder(ctx, entry.OrderSN, cred)
		if err != nil {
			a.logger.Warn("Shopee注文詳細の取得に失敗したためスキップします",
				slog.String("order_id", entry.OrderSN),
				slog.String("error", err.Error()),
			)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	if list.More {
		a.logger.Info("Shopee注文一覧に続きがありますが、先頭ページのみ取得しました",
			slog.Int("page_size", shopeePageSize),
		)
	}
	return snapshots, nil
}

func checkShopeeCredential(cred *model.Credential) error {
	if cred == nil {
		return fmt.Errorf("%w: credential is nil", ErrUnavailable)
	}
	if !cred.HasShopID() {
		return fmt.Errorf("%w: %w", ErrUnavailable, ErrMissingShopID)
	}
	return nil
}

// call は共通パラメータと署名を付与してAPIを呼び出し、成功時のresponseを返す。
func (a *ShopeeAdapter) call(ctx context.Context, apiPath string, cred *model.Credential, query url.Values) (json.RawMessage, error) {
	timestamp := a.now().Unix()
	shopID := *cred.ShopID

	query.Set("partner_id", strconv.FormatInt(a.config.PartnerID, 10))
	query.Set("timestamp", strconv.FormatInt(timestamp, 10))
	query.Set("access_token", cred.AccessToken)
	query.Set("shop_id", strconv.FormatInt(shopID, 10))
	query.Set("sign", ShopeeSign(a.config.PartnerKey, a.config.PartnerID, apiPath, timestamp, cred.AccessToken, shopID))

	a.logger.Debug("Shopee APIを呼び出します",
		slog.String("path", apiPath),
		slog.Int64("user_id", cred.UserID),
		slog.Int64("shop_id", shopID),
	)

	body, err := a.client.get(ctx, strings.TrimRight(a.config.APIURL, "/")+apiPath, query)
	if err != nil {
		return nil, err
	}

	var env shopeeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%w: shopee error=%s message=%s request_id=%s",
			ErrUnavailable, env.Error, env.Message, env.RequestID)
	}
	return env.Response, nil
}

func shopeeSnapshot(o *shopeeOrder) *model.OrderSnapshot {
	items := make([]model.LineItem, 0, len(o.ItemList))
	for _, it := range o.ItemList {
		items = append(items, model.LineItem{
			Name:     CleanText(it.ItemName),
			SKU:      it.ItemSKU,
			Quantity: it.ModelQuantityPurchased,
			Price:    it.ModelDiscountedPrice.Decimal,
		})
	}

	return &model.OrderSnapshot{
		OrderID:      o.OrderSN,
		OrderNumber:  o.OrderSN,
		Status:       NormalizeShopeeStatus(o.OrderStatus),
		RawStatus:    o.OrderStatus,
		Items:        items,
		ShippingInfo: shippingInfo(o.TrackingNo, o.ShippingCarrier),
		CreatedAt:    unixOrZero(o.CreateTime),
		UpdatedAt:    unixOrZero(o.UpdateTime),
	}
}

// IsMissingShopID はエラーがshop_id未設定によるものかを返す。
func IsMissingShopID(err error) bool {
	return errors.Is(err, ErrMissingShopID)
}

// compile-time interface check
var _ Adapter = (*ShopeeAdapter)(nil)
