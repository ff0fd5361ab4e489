// Package telegram はTelegram Bot APIのクライアントを提供する。
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	// sendRate はボット全体の送信レート（Telegramの上限は約30メッセージ/秒）。
	sendRate  = 25
	sendBurst = 5

	// pollTimeoutSeconds はgetUpdatesのロングポーリング時間。
	pollTimeoutSeconds = 60
)

// DeliveryError はメッセージ送信の失敗を表す。
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram: failed to deliver message to chat %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Client はTelegram Bot APIのクライアント。送信はレート制限を通して行う。
type Client struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient はBot APIへ接続し、トークンを検証したClientを返す。
// endpointは "https://api.telegram.org/bot%s/%s" 形式で指定する。
// 接続できない場合はエラーを返す（起動時の致命的エラー）。
func NewClient(token, endpoint string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram bot api: %w", err)
	}

	logger.Info("Telegram Bot APIに接続しました",
		slog.String("bot_username", api.Self.UserName),
	)

	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		logger:  logger,
	}, nil
}

// Username はボットのユーザー名を返す。
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// SendMessage はテキストメッセージを送信する。失敗時は*DeliveryErrorを返す。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, chatID, tgbotapi.NewMessage(chatID, text))
}

// SendKeyboard はインラインキーボード付きのメッセージを送信する。
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	return c.send(ctx, chatID, msg)
}

// AnswerCallback はコールバッククエリに応答する。textが空の場合は通知を表示しない。
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram: failed to answer callback: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, chatID int64, msg tgbotapi.Chattable) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	if _, err := c.api.Send(msg); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

// Updates はロングポーリングで受信したアップデートのチャネルを返す。
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	return c.api.GetUpdatesChan(u)
}

// StopUpdates はアップデートの受信を停止する。
func (c *Client) StopUpdates() {
	c.api.StopReceivingUpdates()
}
