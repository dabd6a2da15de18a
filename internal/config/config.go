package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"camstream/internal/camera"
)

// 設定ファイルのパスを指定する環境変数
const EnvConfigPath = "CAMSTREAM_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト (0で無効)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの猶予

	CORSOrigins []string `yaml:"cors_origins"` // 許可するオリジン
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend"` // v4l2 / mock / gocv

	// デフォルト設定
	DefaultFPS     int `yaml:"default_fps"`     // フレームレート (fps)
	DefaultWidth   int `yaml:"default_width"`   // 画像幅
	DefaultHeight  int `yaml:"default_height"`  // 画像高さ
	DefaultQuality int `yaml:"default_quality"` // JPEG品質 (0-100)

	IdleWait     time.Duration `yaml:"idle_wait"`     // デバイス未オープン時の待機
	PollInterval time.Duration `yaml:"poll_interval"` // ペーシングの再確認間隔
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 1フレームの読み込み待ち
	BufferCount  int           `yaml:"buffer_count"`  // ドライバーのバッファ数

	// 指定した場合は v4l2-ctl による列挙の代わりにこの一覧を使う
	Devices []camera.DeviceEntry `yaml:"devices"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Camera: CameraConfig{
			Backend:        camera.BackendV4L2,
			DefaultFPS:     camera.DefaultFPS,
			DefaultWidth:   camera.DefaultWidth,
			DefaultHeight:  camera.DefaultHeight,
			DefaultQuality: camera.DefaultQuality,
			IdleWait:       camera.DefaultIdleWait,
			PollInterval:   camera.DefaultPollInterval,
			ReadTimeout:    time.Second,
			BufferCount:    2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
//
// 優先順位: デフォルト値 < 設定ファイル < 環境変数
// pathが空の場合は CAMSTREAM_CONFIG を参照し、それも無ければファイルは読まない。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの値をデフォルト値の上に重ねる
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Backend = getEnvOrDefault("CAMSTREAM_BACKEND", c.Camera.Backend)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.New("タイムアウトに負の値は指定できません")
	}

	// カメラ設定の検証
	if c.Camera.Backend == "" {
		return errors.New("カメラのバックエンドが指定されていません")
	}
	if err := c.Camera.Settings().Validate(); err != nil {
		return fmt.Errorf("カメラのデフォルト設定が不正: %w", err)
	}
	if c.Camera.IdleWait < 0 || c.Camera.PollInterval < 0 || c.Camera.ReadTimeout < 0 {
		return errors.New("カメラの待機時間に負の値は指定できません")
	}
	for i, dev := range c.Camera.Devices {
		if dev.Name == "" || dev.Path == "" {
			return fmt.Errorf("devices[%d]: name と device は必須です", i)
		}
	}

	// ログ設定の検証
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("無効なログ形式: %s", c.Log.Format)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// NewLogger はログ設定に従ってwへ出力するロガーを作成する
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Settings はカメラのデフォルトキャプチャ設定を返す
func (c CameraConfig) Settings() camera.Settings {
	return camera.Settings{
		FPS: c.DefaultFPS,
		Resolution: camera.Resolution{
			Horizontal: c.DefaultWidth,
			Vertical:   c.DefaultHeight,
		},
		Quality: c.DefaultQuality,
	}
}

// BackendConfig はバックエンド作成用の設定を返す
func (c CameraConfig) BackendConfig(logger *slog.Logger) camera.BackendConfig {
	return camera.BackendConfig{
		ReadTimeout: c.ReadTimeout,
		BufferCount: c.BufferCount,
		Logger:      logger,
	}
}

// Options はCamera作成時のオプションを返す
func (c CameraConfig) Options(logger *slog.Logger) []camera.Option {
	return []camera.Option{
		camera.WithSettings(c.Settings()),
		camera.WithLogger(logger),
		camera.WithIdleWait(c.IdleWait),
		camera.WithPollInterval(c.PollInterval),
	}
}

// Enumerator はカメラの列挙方法を返す
// devices が設定されていればその一覧、無ければ v4l2-ctl による列挙
func (c CameraConfig) Enumerator() camera.Enumerator {
	if len(c.Devices) > 0 {
		return camera.StaticEnumerator(c.Devices)
	}
	return camera.NewV4L2Enumerator()
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("無効なログレベル: %s", s)
	}
	return level, nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
