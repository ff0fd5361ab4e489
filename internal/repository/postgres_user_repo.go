package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ordertracker/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Upsert はユーザーを作成し、既存の場合はプロフィールとlast_activeを更新する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, username, first_name, last_name, created_at, last_active)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (telegram_id) DO UPDATE SET
		    username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    last_active = EXCLUDED.last_active`,
		user.TelegramID,
		nullString(user.Username),
		nullString(user.FirstName),
		nullString(user.LastName),
		user.LastActive,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
