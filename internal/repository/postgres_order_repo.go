package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/ordertracker/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反を表すエラーコード。
const uniqueViolation = "23505"

const orderColumns = `id, user_id, order_id, platform, status, order_number,
	items, shipping_info, notification_sent, last_updated, created_at`

// PostgresOrderRepo はPostgreSQLを使用した追跡注文リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

// FindTrackable はステータスがexcludedに含まれない追跡注文を作成日時の昇順で返す。
func (r *PostgresOrderRepo) FindTrackable(ctx context.Context, excluded []model.OrderStatus) ([]*model.TrackedOrder, error) {
	statuses := make([]string, len(excluded))
	for i, s := range excluded {
		statuses[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM tracked_orders
		 WHERE NOT (status = ANY($1))
		 ORDER BY created_at ASC`,
		pq.Array(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("ポーリング対象注文の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("ポーリング対象注文の読み取りに失敗しました: %w", err)
	}
	return orders, nil
}

// Create は追跡注文を作成する。
func (r *PostgresOrderRepo) Create(ctx context.Context, order *model.TrackedOrder) error {
	items, shipping, err := marshalTracking(order)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tracked_orders (id, user_id, order_id, platform, status, order_number,
		                             items, shipping_info, notification_sent, last_updated, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.UserID, order.OrderID, string(order.Platform), string(order.Status),
		nullString(order.OrderNumber), items, shipping, order.NotificationSent,
		order.LastUpdated, order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateKey
		}
		return fmt.Errorf("追跡注文の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateTracking はstatus、items、shipping_info、last_updatedを上書きする。
func (r *PostgresOrderRepo) UpdateTracking(ctx context.Context, order *model.TrackedOrder) error {
	items, shipping, err := marshalTracking(order)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tracked_orders SET
		    status = $2,
		    items = $3,
		    shipping_info = $4,
		    last_updated = $5
		 WHERE id = $1`,
		order.ID, string(order.Status), items, shipping, order.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("追跡状態の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("追跡注文 %s の更新に失敗しました: %w", order.ID, model.ErrNotFound)
	}
	return nil
}

// ListByUserID はユーザーの追跡注文を作成日時の降順で返す。
func (r *PostgresOrderRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.TrackedOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM tracked_orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの注文一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの注文一覧の読み取りに失敗しました: %w", err)
	}
	return orders, nil
}

// DeleteForUser はユーザーが所有する追跡注文を削除し、削除した注文のorder_idを返す。
func (r *PostgresOrderRepo) DeleteForUser(ctx context.Context, userID int64, id string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM tracked_orders WHERE id = $1 AND user_id = $2 RETURNING order_id`,
		id, userID,
	).Scan(&orderID)
	if err == sql.ErrNoRows {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("追跡注文の削除に失敗しました: %w", err)
	}
	return orderID, nil
}

func scanOrders(rows *sql.Rows) ([]*model.TrackedOrder, error) {
	var orders []*model.TrackedOrder
	for rows.Next() {
		order := &model.TrackedOrder{}
		var platform, status string
		var orderNumber sql.NullString
		var items, shipping []byte

		if err := rows.Scan(
			&order.ID, &order.UserID, &order.OrderID, &platform, &status, &orderNumber,
			&items, &shipping, &order.NotificationSent, &order.LastUpdated, &order.CreatedAt,
		); err != nil {
			return nil, err
		}

		order.Platform = model.Platform(platform)
		order.Status = model.OrderStatus(status)
		order.OrderNumber = nullStringValue(orderNumber)

		if len(items) > 0 {
			if err := json.Unmarshal(items, &order.Items); err != nil {
				return nil, fmt.Errorf("items のデコードに失敗しました (id=%s): %w", order.ID, err)
			}
		}
		if len(shipping) > 0 && string(shipping) != "null" {
			order.ShippingInfo = &model.ShippingInfo{}
			if err := json.Unmarshal(shipping, order.ShippingInfo); err != nil {
				return nil, fmt.Errorf("shipping_info のデコードに失敗しました (id=%s): %w", order.ID, err)
			}
		}

		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// marshalTracking はitemsとshipping_infoをJSONBカラム用にエンコードする。
// 配送情報が空の場合はNULLとして保存するため、型なしのnilを返す。
func marshalTracking(order *model.TrackedOrder) ([]byte, any, error) {
	lineItems := order.Items
	if lineItems == nil {
		lineItems = []model.LineItem{}
	}
	items, err := json.Marshal(lineItems)
	if err != nil {
		return nil, nil, fmt.Errorf("items のエンコードに失敗しました: %w", err)
	}

	if order.ShippingInfo.IsEmpty() {
		return items, nil, nil
	}
	shipping, err := json.Marshal(order.ShippingInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("shipping_info のエンコードに失敗しました: %w", err)
	}
	return items, shipping, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
