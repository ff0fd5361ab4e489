// Package notify は注文ステータス変更の通知メッセージを組み立てて送信する。
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/ordertracker/internal/model"
)

// TimestampLayout は通知に付与する日時の書式。
const TimestampLayout = "15:04:05 2/1/2006"

var statusTexts = map[model.OrderStatus]string{
	model.OrderStatusPending:    "Chờ xử lý",
	model.OrderStatusProcessing: "Đang xử lý",
	model.OrderStatusShipped:    "Đang giao hàng",
	model.OrderStatusDelivered:  "Đã giao hàng",
	model.OrderStatusCancelled:  "Đã hủy",
	model.OrderStatusReturned:   "Đã trả hàng",
}

var statusEmojis = map[model.OrderStatus]string{
	model.OrderStatusPending:    "⏳",
	model.OrderStatusProcessing: "📦",
	model.OrderStatusShipped:    "🚚",
	model.OrderStatusDelivered:  "✅",
	model.OrderStatusCancelled:  "❌",
	model.OrderStatusReturned:   "↩️",
}

// StatusText はステータスの表示文言を返す。未知の値はそのまま返す。
func StatusText(s model.OrderStatus) string {
	if text, ok := statusTexts[model.OrderStatus(strings.ToLower(string(s)))]; ok {
		return text
	}
	return string(s)
}

// StatusEmoji はステータスの絵文字を返す。
func StatusEmoji(s model.OrderStatus) string {
	if emoji, ok := statusEmojis[model.OrderStatus(strings.ToLower(string(s)))]; ok {
		return emoji
	}
	return "📋"
}

// PlatformEmoji はプラットフォームの絵文字を返す。
func PlatformEmoji(p model.Platform) string {
	if p == model.PlatformLazada {
		return "🛒"
	}
	return "🛍️"
}

// FormatStatusChange はステータス変更通知の本文を組み立てる。
// 同じ入力と日時に対して常に同じ文字列を返す。
func FormatStatusChange(order *model.TrackedOrder, oldStatus, newStatus model.OrderStatus, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s CẬP NHẬT ĐƠN HÀNG\n\n", PlatformEmoji(order.Platform))
	fmt.Fprintf(&b, "📋 Mã đơn: %s\n", order.OrderID)
	fmt.Fprintf(&b, "🏪 Sàn: %s\n\n", strings.ToUpper(string(order.Platform)))
	fmt.Fprintf(&b, "📊 Trạng thái cũ: %s\n", StatusText(oldStatus))
	fmt.Fprintf(&b, "%s Trạng thái mới: %s\n\n", StatusEmoji(newStatus), StatusText(newStatus))

	if info := order.ShippingInfo; info != nil {
		if info.TrackingNumber != "" {
			fmt.Fprintf(&b, "🚚 Mã vận đơn: %s\n", info.TrackingNumber)
		}
		if info.Carrier != "" {
			fmt.Fprintf(&b, "📦 Đơn vị vận chuyển: %s\n", info.Carrier)
		}
	}

	fmt.Fprintf(&b, "\n⏰ %s", at.Format(TimestampLayout))
	return b.String()
}
