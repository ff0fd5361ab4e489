package model

import "time"

// Credential はユーザーごと・プラットフォームごとのAPIアクセストークン。
// 認可フローは本サービスの外部で行われ、ここでは読み取り専用として扱う。
type Credential struct {
	ID           string
	UserID       int64
	Platform     Platform
	AccessToken  string
	RefreshToken string
	// ShopID はShopeeでのみ必須。Lazadaではnil。
	ShopID    *int64
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasShopID はShopIDが設定されているかを返す。
func (c *Credential) HasShopID() bool {
	return c != nil && c.ShopID != nil && *c.ShopID != 0
}
