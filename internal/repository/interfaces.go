// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/ordertracker/internal/model"
)

// OrderRepository は追跡注文データの永続化インターフェース。
type OrderRepository interface {
	// FindTrackable はステータスがexcludedに含まれない全ユーザーの追跡注文を返す。
	// ポーリング対象の列挙に使用する。
	FindTrackable(ctx context.Context, excluded []model.OrderStatus) ([]*model.TrackedOrder, error)

	// Create は追跡注文を作成する。
	// (user_id, order_id, platform) が既に存在する場合は model.ErrDuplicateKey を返す。
	Create(ctx context.Context, order *model.TrackedOrder) error

	// UpdateTracking はstatus、items、shipping_info、last_updatedを1回の書き込みで上書きする。
	// 同じ値での再実行は冪等。
	UpdateTracking(ctx context.Context, order *model.TrackedOrder) error

	// ListByUserID はユーザーの追跡注文を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.TrackedOrder, error)

	// DeleteForUser はユーザーが所有する追跡注文を削除し、削除した注文のプラットフォーム注文番号を返す。
	// 該当する注文が存在しない場合は model.ErrNotFound を返す。
	DeleteForUser(ctx context.Context, userID int64, id string) (string, error)
}

// CredentialRepository はプラットフォーム認証情報の読み取りインターフェース。
type CredentialRepository interface {
	// FindByUserAndPlatform はユーザーとプラットフォームで認証情報を検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndPlatform(ctx context.Context, userID int64, platform model.Platform) (*model.Credential, error)
}

// UserRepository はボット利用者の永続化インターフェース。
type UserRepository interface {
	// Upsert はユーザーを作成し、既存の場合はプロフィールとlast_activeを更新する。
	Upsert(ctx context.Context, user *model.User) error
}
