package bot

const (
	welcomeText = `🎉 Chào mừng bạn đến với Order Tracking Bot! 🎉

Bot này giúp bạn theo dõi trạng thái đơn hàng từ Lazada và Shopee.

📋 Các lệnh có sẵn:
/addorder - Thêm đơn hàng cần theo dõi
/orders - Xem danh sách đơn hàng
/deleteorder - Xóa đơn hàng khỏi danh sách
/import - Nhập đơn hàng gần đây từ tài khoản đã kết nối
/help - Xem hướng dẫn chi tiết

🔔 Bot sẽ tự động thông báo khi đơn hàng của bạn có cập nhật!`

	helpText = `📖 HƯỚNG DẪN SỬ DỤNG

1️⃣ THÊM ĐƠN HÀNG:
   /addorder
   Sau đó chọn sàn (Lazada/Shopee) và nhập mã đơn hàng

2️⃣ XEM DANH SÁCH ĐƠN HÀNG:
   /orders
   Xem tất cả đơn hàng đang theo dõi

3️⃣ XÓA ĐƠN HÀNG:
   /deleteorder
   Chọn đơn hàng muốn xóa khỏi danh sách

4️⃣ NHẬP ĐƠN HÀNG:
   /import
   Tự động thêm các đơn hàng trong 30 ngày gần đây

📌 LƯU Ý:
• Bot kiểm tra đơn hàng tự động theo lịch định kỳ
• Bạn sẽ nhận thông báo khi có cập nhật
• Cần kết nối tài khoản Lazada/Shopee để bot lấy được trạng thái

Liên hệ admin để được hỗ trợ cấu hình!`

	choosePlatformText   = "📦 Chọn sàn thương mại điện tử:"
	enterOrderIDFormat   = "📝 Nhập mã đơn hàng %s:"
	invalidOrderIDText   = "❌ Mã đơn hàng không hợp lệ. Vui lòng thử lại với /addorder"
	duplicateOrderText   = "⚠️ Đơn hàng này đã được thêm trước đó!"
	orderAddedFormat     = "✅ Đã thêm đơn hàng thành công!\n\n📦 Mã: %s\n🛒 Sàn: %s\n\n🔔 Bot sẽ tự động thông báo khi có cập nhật."
	saveFailedText       = "❌ Có lỗi xảy ra khi lưu đơn hàng. Vui lòng thử lại sau."
	noOrdersText         = "📭 Bạn chưa có đơn hàng nào được theo dõi.\n\nSử dụng /addorder để thêm đơn hàng!"
	noOrdersToDeleteText = "📭 Bạn chưa có đơn hàng nào để xóa."
	listFailedText       = "❌ Có lỗi xảy ra khi lấy danh sách đơn hàng."
	orderListHeader      = "📦 DANH SÁCH ĐƠN HÀNG:\n\n"
	chooseDeleteText     = "🗑️ Chọn đơn hàng muốn xóa:"
	orderDeletedFormat   = "✅ Đã xóa đơn hàng %s khỏi danh sách."
	deletedAnswer        = "Đã xóa đơn hàng!"
	notFoundAnswer       = "Không tìm thấy đơn hàng!"
	errorAnswer          = "Có lỗi xảy ra!"

	importStartText       = "⏳ Đang nhập đơn hàng từ các sàn đã kết nối..."
	importNoCredentials   = "⚠️ Chưa có thông tin kết nối API cho sàn nào. Liên hệ admin để được hỗ trợ cấu hình!"
	importPlatformFormat  = "%s %s: thêm %d đơn mới, %d đơn đã được theo dõi"
	importPlatformFailure = "%s %s: không thể lấy danh sách đơn hàng"
	importSummaryHeader   = "📥 KẾT QUẢ NHẬP ĐƠN HÀNG:\n\n"
)
