package camera

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// バックエンド名
const (
	BackendV4L2 = "v4l2" // blackjack/webcam によるV4L2キャプチャ
	BackendMock = "mock" // 合成フレームを返すモック
	BackendGoCV = "gocv" // OpenCV (ビルドタグ gocv が必要)
)

// BackendConfig はバックエンド作成時の設定
type BackendConfig struct {
	ReadTimeout time.Duration // 1フレーム読み込みの最大待ち時間
	BufferCount int           // ドライバーのバッファ数
	Logger      *slog.Logger
}

// BackendCreator はバックエンドのOpenerを作成する関数
type BackendCreator func(cfg BackendConfig) (Opener, error)

// builtinBackends は標準で登録されるバックエンド
// ビルドタグ付きのファイルがinitで追加する
var builtinBackends = map[string]BackendCreator{
	BackendV4L2: newWebcamOpener,
	BackendMock: func(BackendConfig) (Opener, error) { return NewMockOpener(), nil },
}

// BackendFactory はバックエンド名からOpenerを作成するファクトリー
type BackendFactory struct {
	mu       sync.RWMutex
	creators map[string]BackendCreator
}

// NewBackendFactory は標準バックエンドを登録したファクトリーを作成する
func NewBackendFactory() *BackendFactory {
	f := &BackendFactory{
		creators: make(map[string]BackendCreator),
	}
	for name, creator := range builtinBackends {
		f.Register(name, creator)
	}
	return f
}

// Register はバックエンドを登録する
func (f *BackendFactory) Register(name string, creator BackendCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

// Create は指定されたバックエンドのOpenerを作成する
func (f *BackendFactory) Create(name string, cfg BackendConfig) (Opener, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s (利用可能: %v)", name, f.Backends())
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = 2
	}

	return creator(cfg)
}

// Backends は登録済みのバックエンド名をソートして返す
func (f *BackendFactory) Backends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
