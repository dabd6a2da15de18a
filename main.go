package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"camstream/internal/config"
	"camstream/internal/server"
)

func main() {
	// 設定を読み込む (CAMSTREAM_CONFIG と環境変数のみ)
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("ロガーの作成に失敗しました", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを作成
	srv, err := server.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("サーバーの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		logger.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
