// Command ordertracker はLazada・Shopeeの注文ステータスを追跡するTelegramボットを起動する。
//
// 使い方:
//
//	ordertracker [serve|poll|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/ordertracker/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
