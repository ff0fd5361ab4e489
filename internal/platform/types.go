package platform

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// flexString は文字列・数値どちらのJSON表現も受け付ける文字列。
// Lazadaはorder_idを数値で返すことがある。
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// lazadaEnvelope はLazada APIの共通レスポンス。code "0" が成功を表す。
type lazadaEnvelope struct {
	Code      flexString      `json:"code"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type lazadaOrder struct {
	OrderID          flexString   `json:"order_id"`
	OrderNumber      flexString   `json:"order_number"`
	Status           string       `json:"status"`
	CreatedAt        string       `json:"created_at"`
	UpdatedAt        string       `json:"updated_at"`
	TrackingCode     string       `json:"tracking_code"`
	ShippingProvider string       `json:"shipping_provider"`
	Items            []lazadaItem `json:"items"`
}

type lazadaItem struct {
	Name      string              `json:"name"`
	SKU       string              `json:"sku"`
	Quantity  int                 `json:"quantity"`
	PaidPrice decimal.NullDecimal `json:"paid_price"`
}

type lazadaOrderList struct {
	Orders []lazadaOrder `json:"orders"`
}

// shopeeEnvelope はShopee Open API v2の共通レスポンス。errorが空の場合が成功。
type shopeeEnvelope struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

type shopeeOrderDetail struct {
	OrderList []shopeeOrder `json:"order_list"`
}

type shopeeOrder struct {
	OrderSN         string       `json:"order_sn"`
	OrderStatus     string       `json:"order_status"`
	CreateTime      int64        `json:"create_time"`
	UpdateTime      int64        `json:"update_time"`
	TrackingNo      string       `json:"tracking_no"`
	ShippingCarrier string       `json:"shipping_carrier"`
	ItemList        []shopeeItem `json:"item_list"`
}

type shopeeItem struct {
	ItemName               string              `json:"item_name"`
	ItemSKU                string              `json:"item_sku"`
	ModelQuantityPurchased int                 `json:"model_quantity_purchased"`
	ModelDiscountedPrice   decimal.NullDecimal `json:"model_discounted_price"`
}

type shopeeOrderList struct {
	More      bool `json:"more"`
	OrderList []struct {
		OrderSN string `json:"order_sn"`
	} `json:"order_list"`
}

// lazadaTimeLayouts はLazadaが返す日時の書式。
var lazadaTimeLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseLazadaTime はLazadaの日時文字列を解析する。解析できない場合はゼロ値を返す。
func parseLazadaTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range lazadaTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
