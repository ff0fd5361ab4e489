package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/ordertracker/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した認証情報リポジトリ。
// 認証情報の登録・更新は外部の認可フローが行うため、読み取りのみを提供する。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByUserAndPlatform はユーザーとプラットフォームで認証情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByUserAndPlatform(ctx context.Context, userID int64, platform model.Platform) (*model.Credential, error) {
	cred := &model.Credential{}
	var p string
	var refreshToken sql.NullString
	var shopID sql.NullInt64
	var expiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, platform, access_token, refresh_token, shop_id,
		        expires_at, created_at, updated_at
		 FROM user_credentials
		 WHERE user_id = $1 AND platform = $2`,
		userID, string(platform),
	).Scan(
		&cred.ID, &cred.UserID, &p, &cred.AccessToken, &refreshToken, &shopID,
		&expiresAt, &cred.CreatedAt, &cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}

	cred.Platform = model.Platform(p)
	cred.RefreshToken = nullStringValue(refreshToken)
	if shopID.Valid {
		id := shopID.Int64
		cred.ShopID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		cred.ExpiresAt = &t
	}

	return cred, nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
