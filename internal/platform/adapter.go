// Package platform はECプラットフォーム（Lazada / Shopee）の注文APIアダプタを提供する。
// 各アダプタはプラットフォーム固有のレスポンスを正規化済みのOrderSnapshotに変換する。
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/ordertracker/internal/model"
)

var (
	// ErrUnavailable はネットワークエラー・非2xx応答・APIエラーコード・不正なペイロードを表す。
	// ポーリングでは当該注文を今回のサイクルでスキップする。
	ErrUnavailable = errors.New("platform unavailable")

	// ErrOrderNotFound は応答自体は成功したが注文データが含まれていない場合のエラー。
	ErrOrderNotFound = errors.New("order not found on platform")

	// ErrNotConfigured はアプリケーションの認証情報が未設定のアダプタを呼び出した場合のエラー。
	ErrNotConfigured = errors.New("platform adapter is not configured")

	// ErrMissingShopID はShopeeの認証情報にshop_idが設定されていない場合のエラー。
	ErrMissingShopID = errors.New("shopee credential has no shop id")
)

// Adapter はプラットフォームの注文APIを抽象化するインターフェース。
type Adapter interface {
	// Platform はアダプタが担当するプラットフォームを返す。
	Platform() model.Platform

	// IsConfigured はアプリケーション側の認証情報が設定済みかを返す。
	IsConfigured() bool

	// FetchOrder は注文1件を取得する。認証済みGETリクエストをちょうど1回送信する。
	FetchOrder(ctx context.Context, orderID string, cred *model.Credential) (*model.OrderSnapshot, error)

	// ListOrders は期間内の注文一覧を取得する。
	ListOrders(ctx context.Context, cred *model.Credential, from, to time.Time) ([]*model.OrderSnapshot, error)
}

// Registry はプラットフォームごとのアダプタを保持する。
type Registry struct {
	adapters map[model.Platform]Adapter
}

// NewRegistry は指定されたアダプタからRegistryを生成する。
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get はプラットフォームのアダプタを返す。未登録の場合はfalseを返す。
func (r *Registry) Get(p model.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Configured は認証情報が設定済みのアダプタをプラットフォーム定義順に返す。
func (r *Registry) Configured() []Adapter {
	var out []Adapter
	for _, p := range model.Platforms() {
		if a, ok := r.adapters[p]; ok && a.IsConfigured() {
			out = append(out, a)
		}
	}
	return out
}
