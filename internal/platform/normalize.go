package platform

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/ordertracker/internal/model"
)

// textPolicy は商品名などの外部テキストから全てのHTMLを除去する。
var textPolicy = bluemonday.StrictPolicy()

var lazadaStatuses = map[string]model.OrderStatus{
	"pending":       model.OrderStatusPending,
	"unpaid":        model.OrderStatusPending,
	"paid":          model.OrderStatusProcessing,
	"ready_to_ship": model.OrderStatusProcessing,
	"shipped":       model.OrderStatusShipped,
	"delivered":     model.OrderStatusDelivered,
	"canceled":      model.OrderStatusCancelled,
	"failed":        model.OrderStatusCancelled,
	"returned":      model.OrderStatusReturned,
}

var shopeeStatuses = map[string]model.OrderStatus{
	"UNPAID":             model.OrderStatusPending,
	"READY_TO_SHIP":      model.OrderStatusProcessing,
	"PROCESSED":          model.OrderStatusProcessing,
	"SHIPPED":            model.OrderStatusShipped,
	"TO_CONFIRM_RECEIVE": model.OrderStatusShipped,
	"COMPLETED":          model.OrderStatusDelivered,
	"IN_CANCEL":          model.OrderStatusCancelled,
	"CANCELLED":          model.OrderStatusCancelled,
	"TO_RETURN":          model.OrderStatusReturned,
}

// NormalizeLazadaStatus はLazadaの生ステータスを正規化する（大文字小文字を区別しない）。
// 未知の値はpendingとして扱う。
func NormalizeLazadaStatus(raw string) model.OrderStatus {
	if s, ok := lazadaStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return model.OrderStatusPending
}

// NormalizeShopeeStatus はShopeeの生ステータスを正規化する（大文字小文字を区別しない）。
// 未知の値はpendingとして扱う。
func NormalizeShopeeStatus(raw string) model.OrderStatus {
	if s, ok := shopeeStatuses[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return model.OrderStatusPending
}

// Normalize はプラットフォームに応じて生ステータスを正規化する。
func Normalize(p model.Platform, raw string) model.OrderStatus {
	switch p {
	case model.PlatformLazada:
		return NormalizeLazadaStatus(raw)
	case model.PlatformShopee:
		return NormalizeShopeeStatus(raw)
	default:
		return model.OrderStatusPending
	}
}

// CleanText はプラットフォームから受け取ったテキストのHTMLタグを除去し、
// エンティティを復元した平文を返す。
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}
