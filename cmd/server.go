// Package main はcamstreamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: $CAMSTREAM_CONFIG)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		backend    = flag.String("backend", "", "キャプチャバックエンド ("+strings.Join(camera.NewBackendFactory().Backends(), ", ")+")")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camstream")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.Camera.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("設定が不正です", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("ロガーの作成に失敗しました", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// コンテキストを作成
	ctx := context.Background()

	srv, err := server.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("サーバーの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	logger.Info("camstream サーバーを起動します", "addr", cfg.ServerAddress(), "backend", cfg.Camera.Backend)
	if err := srv.Start(ctx); err != nil {
		logger.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
