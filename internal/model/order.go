// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Platform は注文を取得するECプラットフォームを表す。
type Platform string

const (
	// PlatformLazada はLazadaを表す。
	PlatformLazada Platform = "lazada"
	// PlatformShopee はShopeeを表す。
	PlatformShopee Platform = "shopee"
)

// Platforms はサポートする全プラットフォームを返す。
func Platforms() []Platform {
	return []Platform{PlatformLazada, PlatformShopee}
}

// ParsePlatform は文字列をPlatformに変換する。未知の値の場合はfalseを返す。
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformLazada:
		return PlatformLazada, true
	case PlatformShopee:
		return PlatformShopee, true
	default:
		return "", false
	}
}

// DisplayName は表示用のプラットフォーム名を返す。
func (p Platform) DisplayName() string {
	switch p {
	case PlatformLazada:
		return "Lazada"
	case PlatformShopee:
		return "Shopee"
	default:
		return string(p)
	}
}

// OrderStatus はプラットフォーム共通の正規化済み注文ステータス。
type OrderStatus string

const (
	// OrderStatusPending は支払い待ち・受付待ちの状態。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing は出荷準備中の状態。
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped は配送中の状態。
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered は配達完了の状態（終端）。
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled はキャンセル済みの状態（終端）。
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned は返品の状態。ポーリング対象に残る。
	OrderStatusReturned OrderStatus = "returned"
)

// TerminalStatuses はポーリング対象から除外する終端ステータスを返す。
func TerminalStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusDelivered, OrderStatusCancelled}
}

// IsTerminal はステータスが終端かどうかを返す。
func (s OrderStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses() {
		if s == t {
			return true
		}
	}
	return false
}

// LineItem は注文に含まれる商品を表す。
type LineItem struct {
	Name     string          `json:"name"`
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// ShippingInfo は配送情報を表す。
type ShippingInfo struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

// IsEmpty は追跡番号・配送業者ともに未設定かどうかを返す。
func (s *ShippingInfo) IsEmpty() bool {
	return s == nil || (s.TrackingNumber == "" && s.Carrier == "")
}

// TrackedOrder はユーザーが追跡を登録した注文を表す。
// (UserID, OrderID, Platform) の組で一意となる。
type TrackedOrder struct {
	ID           string
	UserID       int64
	OrderID      string
	Platform     Platform
	Status       OrderStatus
	OrderNumber  string
	Items        []LineItem
	ShippingInfo *ShippingInfo
	// NotificationSent は保存のみ行い、変更検知では参照しない。
	NotificationSent bool
	LastUpdated      time.Time
	CreatedAt        time.Time
}

// OrderSnapshot はプラットフォームアダプタが返す正規化済みの注文状態。
// 永続化せず、保存済みのTrackedOrderとの比較にのみ使用する。
type OrderSnapshot struct {
	OrderID      string
	OrderNumber  string
	Status       OrderStatus
	RawStatus    string
	Items        []LineItem
	ShippingInfo *ShippingInfo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplySnapshot はスナップショットの内容を注文に反映し、変更前のステータスを返す。
// status、items、shipping_info、last_updatedのみを更新する。
func (o *TrackedOrder) ApplySnapshot(snap *OrderSnapshot, now time.Time) OrderStatus {
	old := o.Status
	o.Status = snap.Status
	o.Items = snap.Items
	o.ShippingInfo = snap.ShippingInfo
	o.LastUpdated = now
	return old
}
