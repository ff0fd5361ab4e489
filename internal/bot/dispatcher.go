// Package bot はTelegramボットのコマンドとコールバックを処理する。
// すべてのアップデートは単一のDispatcherが受け取り、会話状態はSessionStoreで管理する。
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ordertracker/internal/model"
	"github.com/hitoshi/ordertracker/internal/notify"
	"github.com/hitoshi/ordertracker/internal/platform"
	"github.com/hitoshi/ordertracker/internal/repository"
)

const (
	platformCallbackPrefix = "platform_"
	deleteCallbackPrefix   = "delete_"

	// importWindow は/importで取得する注文の期間。
	importWindow = 30 * 24 * time.Hour
	// listTimeLayout は注文一覧に表示する更新日時の書式。
	listTimeLayout = "15:04:05 2/1/2006"
)

// Messenger はボットからユーザーへの送信インターフェース。
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Dependencies はDispatcherが使用するコンポーネント。
type Dependencies struct {
	Messenger   Messenger
	Orders      repository.OrderRepository
	Users       repository.UserRepository
	Credentials repository.CredentialRepository
	Adapters    *platform.Registry
	Sessions    SessionStore
}

// Dispatcher はTelegramのアップデートを種類ごとのハンドラへ振り分ける。
type Dispatcher struct {
	Dependencies
	sessionTTL time.Duration
	loc        *time.Location
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewDispatcher はDispatcherを生成する。
// sessionTTLは注文番号の入力待ち状態の有効期間、locは日時表示のタイムゾーン。
func NewDispatcher(deps Dependencies, sessionTTL time.Duration, loc *time.Location, logger *slog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		Dependencies: deps,
		sessionTTL:   sessionTTL,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Run はupdatesチャネルが閉じられるかctxがキャンセルされるまでアップデートを処理する。
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	d.logger.Info("ボットのアップデート受信を開始しました")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("ボットのアップデート受信を停止しました")
			return
		case update, ok := <-updates:
			if !ok {
				d.logger.Info("アップデートチャネルが閉じられました")
				return
			}
			d.Handle(ctx, update)
		}
	}
}

// Handle はアップデート1件を処理する。ハンドラ内のpanicは回復してログに記録する。
func (d *Dispatcher) Handle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("アップデート処理中にpanicが発生しました",
				slog.Int("update_id", update.UpdateID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		// 別のコマンドが送られた時点で入力待ち状態は破棄する
		if err := d.Sessions.Delete(ctx, chatID); err != nil {
			d.logger.Warn("会話状態の削除に失敗しました",
				slog.Int64("user_id", chatID),
				slog.String("error", err.Error()),
			)
		}

		switch msg.Command() {
		case "start":
			d.handleStart(ctx, msg)
		case "help":
			d.reply(ctx, chatID, helpText)
		case "addorder":
			d.handleAddOrder(ctx, chatID)
		case "orders":
			d.handleListOrders(ctx, chatID)
		case "deleteorder":
			d.handleDeleteOrder(ctx, chatID)
		case "import":
			d.handleImport(ctx, msg)
		default:
			d.logger.Debug("未対応のコマンドを無視しました", slog.String("command", msg.Command()))
		}
		return
	}

	state, err := d.Sessions.Get(ctx, chatID)
	if err != nil {
		d.logger.Error("会話状態の取得に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("error", err.Error()),
		)
		return
	}
	if state == nil {
		return
	}

	d.handleOrderIDInput(ctx, msg, state)
}

func (d *Dispatcher) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	d.upsertUser(ctx, msg.Chat.ID, msg.From)
	d.reply(ctx, msg.Chat.ID, welcomeText)
}

func (d *Dispatcher) handleAddOrder(ctx context.Context, chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(notify.PlatformEmoji(model.PlatformLazada)+" Lazada", platformCallbackPrefix+string(model.PlatformLazada)),
			tgbotapi.NewInlineKeyboardButtonData(notify.PlatformEmoji(model.PlatformShopee)+" Shopee", platformCallbackPrefix+string(model.PlatformShopee)),
		),
	)
	if err := d.Messenger.SendKeyboard(ctx, chatID, choosePlatformText, keyboard); err != nil {
		d.logSendError(chatID, err)
	}
}

func (d *Dispatcher) handleOrderIDInput(ctx context.Context, msg *tgbotapi.Message, state *AwaitingOrderID) {
	chatID := msg.Chat.ID
	defer func() {
		if err := d.Sessions.Delete(ctx, chatID); err != nil {
			d.logger.Warn("会話状態の削除に失敗しました",
				slog.Int64("user_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}()

	orderID := strings.TrimSpace(msg.Text)
	if orderID == "" {
		d.reply(ctx, chatID, invalidOrderIDText)
		return
	}

	d.upsertUser(ctx, chatID, msg.From)

	now := d.now()
	order := &model.TrackedOrder{
		ID:          d.newID(),
		UserID:      chatID,
		OrderID:     orderID,
		Platform:    state.Platform,
		Status:      model.OrderStatusPending,
		LastUpdated: now,
		CreatedAt:   now,
	}

	err := d.Orders.Create(ctx, order)
	switch {
	case errors.Is(err, model.ErrDuplicateKey):
		d.reply(ctx, chatID, duplicateOrderText)
	case err != nil:
		d.logger.Error("追跡注文の登録に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("order_id", orderID),
			slog.String("platform", string(state.Platform)),
			slog.String("error", err.Error()),
		)
		d.reply(ctx, chatID, saveFailedText)
	default:
		d.logger.Info("追跡注文を登録しました",
			slog.Int64("user_id", chatID),
			slog.String("order_id", orderID),
			slog.String("platform", string(state.Platform)),
		)
		d.reply(ctx, chatID, fmt.Sprintf(orderAddedFormat, orderID, strings.ToUpper(string(state.Platform))))
	}
}

func (d *Dispatcher) handleListOrders(ctx context.Context, chatID int64) {
	orders, err := d.Orders.ListByUserID(ctx, chatID)
	if err != nil {
		d.logger.Error("注文一覧の取得に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("error", err.Error()),
		)
		d.reply(ctx, chatID, listFailedText)
		return
	}
	if len(orders) == 0 {
		d.reply(ctx, chatID, noOrdersText)
		return
	}

	d.reply(ctx, chatID, formatOrderList(orders, d.loc))
}

// formatOrderList は注文一覧メッセージを組み立てる。ordersは表示順に並んでいること。
func formatOrderList(orders []*model.TrackedOrder, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(orderListHeader)
	for i, o := range orders {
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, notify.PlatformEmoji(o.Platform), strings.ToUpper(string(o.Platform)))
		fmt.Fprintf(&b, "   📋 Mã: %s\n", o.OrderID)
		fmt.Fprintf(&b, "   %s Trạng thái: %s\n", notify.StatusEmoji(o.Status), notify.StatusText(o.Status))
		fmt.Fprintf(&b, "   📅 Cập nhật: %s\n\n", o.LastUpdated.In(loc).Format(listTimeLayout))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) handleDeleteOrder(ctx context.Context, chatID int64) {
	orders, err := d.Orders.ListByUserID(ctx, chatID)
	if err != nil {
		d.logger.Error("注文一覧の取得に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("error", err.Error()),
		)
		d.reply(ctx, chatID, listFailedText)
		return
	}
	if len(orders) == 0 {
		d.reply(ctx, chatID, noOrdersToDeleteText)
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				notify.PlatformEmoji(o.Platform)+" "+o.OrderID,
				deleteCallbackPrefix+o.ID,
			),
		))
	}
	if err := d.Messenger.SendKeyboard(ctx, chatID, chooseDeleteText, tgbotapi.NewInlineKeyboardMarkup(rows...)); err != nil {
		d.logSendError(chatID, err)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	var chatID int64
	switch {
	case cq.Message != nil && cq.Message.Chat != nil:
		chatID = cq.Message.Chat.ID
	case cq.From != nil:
		chatID = cq.From.ID
	default:
		return
	}

	switch {
	case strings.HasPrefix(cq.Data, platformCallbackPrefix):
		d.handlePlatformSelected(ctx, cq, chatID, strings.TrimPrefix(cq.Data, platformCallbackPrefix))
	case strings.HasPrefix(cq.Data, deleteCallbackPrefix):
		d.handleDeleteSelected(ctx, cq, chatID, strings.TrimPrefix(cq.Data, deleteCallbackPrefix))
	default:
		d.answer(ctx, cq.ID, "")
	}
}

func (d *Dispatcher) handlePlatformSelected(ctx context.Context, cq *tgbotapi.CallbackQuery, chatID int64, value string) {
	p, ok := model.ParsePlatform(value)
	if !ok {
		d.answer(ctx, cq.ID, errorAnswer)
		return
	}

	state := &AwaitingOrderID{Platform: p, ExpiresAt: d.now().Add(d.sessionTTL)}
	if err := d.Sessions.Set(ctx, chatID, state); err != nil {
		d.logger.Error("会話状態の保存に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("error", err.Error()),
		)
		d.answer(ctx, cq.ID, errorAnswer)
		return
	}

	d.answer(ctx, cq.ID, "")
	d.reply(ctx, chatID, fmt.Sprintf(enterOrderIDFormat, p.DisplayName()))
}

func (d *Dispatcher) handleDeleteSelected(ctx context.Context, cq *tgbotapi.CallbackQuery, chatID int64, value string) {
	id, err := uuid.Parse(value)
	if err != nil {
		d.answer(ctx, cq.ID, notFoundAnswer)
		return
	}

	orderID, err := d.Orders.DeleteForUser(ctx, chatID, id.String())
	switch {
	case errors.Is(err, model.ErrNotFound):
		d.answer(ctx, cq.ID, notFoundAnswer)
	case err != nil:
		d.logger.Error("追跡注文の削除に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
		d.answer(ctx, cq.ID, errorAnswer)
	default:
		d.logger.Info("追跡注文を削除しました",
			slog.Int64("user_id", chatID),
			slog.String("order_id", orderID),
		)
		d.answer(ctx, cq.ID, deletedAnswer)
		d.reply(ctx, chatID, fmt.Sprintf(orderDeletedFormat, orderID))
	}
}

// handleImport は認証情報が登録済みの各プラットフォームから直近の注文を取得し、
// 未登録かつ終端ステータスでない注文を追跡対象に追加する。
func (d *Dispatcher) handleImport(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	d.upsertUser(ctx, chatID, msg.From)

	type platformCred struct {
		adapter platform.Adapter
		cred    *model.Credential
	}
	var targets []platformCred
	for _, a := range d.Adapters.Configured() {
		cred, err := d.Credentials.FindByUserAndPlatform(ctx, chatID, a.Platform())
		if err != nil {
			d.logger.Error("認証情報の取得に失敗しました",
				slog.Int64("user_id", chatID),
				slog.String("platform", string(a.Platform())),
				slog.String("error", err.Error()),
			)
			continue
		}
		if cred != nil {
			targets = append(targets, platformCred{adapter: a, cred: cred})
		}
	}
	if len(targets) == 0 {
		d.reply(ctx, chatID, importNoCredentials)
		return
	}

	d.reply(ctx, chatID, importStartText)

	now := d.now()
	var lines []string
	for _, t := range targets {
		p := t.adapter.Platform()
		snapshots, err := t.adapter.ListOrders(ctx, t.cred, now.Add(-importWindow), now)
		if err != nil {
			d.logger.Warn("注文一覧の取得に失敗しました",
				slog.Int64("user_id", chatID),
				slog.String("platform", string(p)),
				slog.String("error", err.Error()),
			)
			lines = append(lines, fmt.Sprintf(importPlatformFailure, notify.PlatformEmoji(p), p.DisplayName()))
			continue
		}

		added, existing := d.importSnapshots(ctx, chatID, p, snapshots, now)
		lines = append(lines, fmt.Sprintf(importPlatformFormat, notify.PlatformEmoji(p), p.DisplayName(), added, existing))
	}

	d.reply(ctx, chatID, importSummaryHeader+strings.Join(lines, "\n"))
}

func (d *Dispatcher) importSnapshots(ctx context.Context, chatID int64, p model.Platform, snapshots []*model.OrderSnapshot, now time.Time) (added, existing int) {
	for _, snap := range snapshots {
		if snap.OrderID == "" || snap.Status.IsTerminal() {
			continue
		}
		order := &model.TrackedOrder{
			ID:           d.newID(),
			UserID:       chatID,
			OrderID:      snap.OrderID,
			Platform:     p,
			Status:       snap.Status,
			OrderNumber:  snap.OrderNumber,
			Items:        snap.Items,
			ShippingInfo: snap.ShippingInfo,
			LastUpdated:  now,
			CreatedAt:    now,
		}
		err := d.Orders.Create(ctx, order)
		switch {
		case errors.Is(err, model.ErrDuplicateKey):
			existing++
		case err != nil:
			d.logger.Error("注文のインポートに失敗しました",
				slog.Int64("user_id", chatID),
				slog.String("order_id", snap.OrderID),
				slog.String("platform", string(p)),
				slog.String("error", err.Error()),
			)
		default:
			added++
		}
	}
	return added, existing
}

// upsertUser はユーザー情報を登録・更新する。失敗してもユーザーには表示しない。
func (d *Dispatcher) upsertUser(ctx context.Context, chatID int64, from *tgbotapi.User) {
	user := &model.User{TelegramID: chatID, LastActive: d.now()}
	if from != nil {
		user.Username = from.UserName
		user.FirstName = from.FirstName
		user.LastName = from.LastName
	}
	if user.Username == "" {
		user.Username = "User"
	}
	if err := d.Users.Upsert(ctx, user); err != nil {
		d.logger.Error("ユーザー情報の保存に失敗しました",
			slog.Int64("user_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.Messenger.SendMessage(ctx, chatID, text); err != nil {
		d.logSendError(chatID, err)
	}
}

func (d *Dispatcher) answer(ctx context.Context, callbackID, text string) {
	if err := d.Messenger.AnswerCallback(ctx, callbackID, text); err != nil {
		d.logger.Warn("コールバックへの応答に失敗しました",
			slog.String("callback_id", callbackID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) logSendError(chatID int64, err error) {
	d.logger.Error("メッセージの送信に失敗しました",
		slog.Int64("user_id", chatID),
		slog.String("error", err.Error()),
	)
}
