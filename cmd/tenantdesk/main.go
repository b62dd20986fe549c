// Command tenantdesk はマルチテナント管理画面のAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	tenantdesk [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tenantdesk/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
