package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"

	"camstream/internal/camera"
	"camstream/internal/config"
)

// defaultShutdownTimeout は設定が0の場合のシャットダウン猶予
const defaultShutdownTimeout = 5 * time.Second

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	manager    *camera.Manager
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager *camera.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger(logger), cors(cfg.Server.CORSOrigins))

	NewHandler(cfg, manager, logger).register(engine)

	s := &Server{
		config:  cfg,
		logger:  logger,
		manager: manager,
		engine:  engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// ストリーミング中の接続はアイドルにならないため、シャットダウン開始時にセッションを終わらせる
	s.httpServer.RegisterOnShutdown(manager.Close)

	return s
}

// NewFromConfig は設定からバックエンドとカメラ一覧を構築してServerを作成する
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	factory := camera.NewBackendFactory()
	opener, err := factory.Create(cfg.Camera.Backend, cfg.Camera.BackendConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("キャプチャバックエンドの作成に失敗: %w", err)
	}

	manager := camera.NewManager(ctx, cfg.Camera.Enumerator(), opener, cfg.Camera.Options(logger)...)
	logger.Info("カメラ一覧を構築しました", "backend", cfg.Camera.Backend, "cameras", len(manager.Names()))

	return New(cfg, manager, logger), nil
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Manager はカメラ一覧を返す
func (s *Server) Manager() *camera.Manager {
	return s.manager
}

// Start はサーバーを起動する
// ctxのキャンセルかSIGINT/SIGTERMでグレースフルシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ServerAddress())
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	s.notify(daemon.SdNotifyReady)

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		s.manager.Close()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンし、全カメラを解放する
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")
	s.notify(daemon.SdNotifyStopping)

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	// シャットダウン中に開始されたセッションも含めて解放する
	s.manager.Close()

	if err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// notify はsystemdへ状態を通知する。systemd配下でなければ何もしない
func (s *Server) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		s.logger.Warn("systemdへの通知に失敗", "state", state, "error", err)
		return
	}
	if sent {
		s.logger.Debug("systemdへ通知しました", "state", state)
	}
}
