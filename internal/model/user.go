// Package model はドメインモデルを定義する。
package model

import "time"

// User はボットを利用するTelegramユーザーを表す。
type User struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
	LastActive time.Time
}
