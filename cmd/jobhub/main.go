// Command jobhub はマルチテナントのジョブキューAPIサーバー、ワーカー、管理コマンドを提供する。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/jobhub/internal/app"
)

func main() {
	// .env は存在すれば読み込む。既存の環境変数は上書きしない。
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jobhub: %v\n", err)
		os.Exit(1)
	}
}
