// Command craveny はダッシュボードゲートウェイを起動する。
//
//	craveny [serve]      ゲートウェイサーバーを起動する（既定）
//	craveny healthcheck  /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/craveny/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
