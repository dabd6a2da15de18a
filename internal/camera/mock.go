package camera

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// MockOpener はテストやハードウェア無しの動作確認に使うOpener実装
// 開いた回数・閉じた回数を記録し、失敗を注入できる
type MockOpener struct {
	mu sync.Mutex

	opens  int
	closes int
	last   Settings
	paths  []string

	// テスト制御用
	shouldFailOpen bool
	failReads      int
}

// NewMockOpener は新しいMockOpenerを作成する
func NewMockOpener() *MockOpener {
	return &MockOpener{}
}

// Open は合成フレームを返すMockDeviceを作成する
func (m *MockOpener) Open(path string, settings Settings) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailOpen {
		return nil, errors.New("モック: デバイスを開けません")
	}

	m.opens++
	m.last = settings
	m.paths = append(m.paths, path)
	return &MockDevice{opener: m, settings: settings}, nil
}

// OpenCount は開いた回数を返す
func (m *MockOpener) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// CloseCount は閉じた回数を返す
func (m *MockOpener) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// LastSettings は最後にOpenで渡された設定を返す
func (m *MockOpener) LastSettings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockOpener) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// SetFailReads はテスト用に次のn回の読み込みを失敗させる
func (m *MockOpener) SetFailReads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = n
}

func (m *MockOpener) takeReadFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads > 0 {
		m.failReads--
		return true
	}
	return false
}

func (m *MockOpener) recordClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
}

// MockDevice は合成フレームを返すDevice実装
type MockDevice struct {
	opener   *MockOpener
	settings Settings
	frames   int
	closed   bool
}

// SetFPS はフレームレートを記録する
func (d *MockDevice) SetFPS(fps int) error {
	if d.closed {
		return errors.New("モック: デバイスは閉じられています")
	}
	d.settings.FPS = fps
	return nil
}

// SetQuality は画質を記録する
func (d *MockDevice) SetQuality(quality int) error {
	if d.closed {
		return errors.New("モック: デバイスは閉じられています")
	}
	d.settings.Quality = quality
	return nil
}

// ReadFrame はフレーム番号で模様がずれるグラデーション画像を返す
func (d *MockDevice) ReadFrame() (image.Image, error) {
	if d.closed {
		return nil, errors.New("モック: デバイスは閉じられています")
	}
	if d.opener.takeReadFailure() {
		return nil, errors.New("モック: フレームの読み込みに失敗")
	}

	w, h := d.settings.Resolution.Horizontal, d.settings.Resolution.Vertical
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := d.frames * 4
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	d.frames++
	return img, nil
}

// Close はデバイスを閉じる。2回目以降は何もしない
func (d *MockDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.opener.recordClose()
	return nil
}
