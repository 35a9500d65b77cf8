// Command chairside は会話型の予約受付APIを起動する。
//
//	chairside [serve]      APIサーバーを起動する（デフォルト）
//	chairside migrate      データベースマイグレーションを実行する
//	chairside healthcheck  稼働中サーバーの/healthを確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/chairside/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chairside: %v\n", err)
		os.Exit(1)
	}
}
