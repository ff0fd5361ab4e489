// Package model はドメインモデルを定義する。
package model

import "errors"

var (
	// ErrDuplicateKey は (user_id, order_id, platform) が既に登録済みの場合のエラー。
	ErrDuplicateKey = errors.New("既に登録済みの注文です")

	// ErrNotFound は対象のレコードが存在しない場合のエラー。
	ErrNotFound = errors.New("対象が見つかりません")
)
