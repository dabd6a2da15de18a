package camera

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// デフォルト設定
const (
	DefaultFPS     = 30
	DefaultWidth   = 640
	DefaultHeight  = 480
	DefaultQuality = 90
)

// Resolution はカメラの解像度を表す
// 値として扱い、変更時は丸ごと置き換える
type Resolution struct {
	Horizontal int // 幅
	Vertical   int // 高さ
}

// NewResolution は検証済みのResolutionを作成する
func NewResolution(horizontal, vertical int) (Resolution, error) {
	if horizontal <= 0 || vertical <= 0 {
		return Resolution{}, &InvalidParameterError{
			Param:  "resolution",
			Value:  fmt.Sprintf("%dx%d", horizontal, vertical),
			Reason: "幅と高さは正の整数である必要があります",
		}
	}
	return Resolution{Horizontal: horizontal, Vertical: vertical}, nil
}

// ParseResolution は "WxH" 形式の文字列からResolutionを作成する
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return Resolution{}, &InvalidParameterError{Param: "resolution", Value: s, Reason: "WxH 形式ではありません"}
	}

	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Resolution{}, &InvalidParameterError{Param: "resolution", Value: s, Reason: "幅が整数ではありません"}
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Resolution{}, &InvalidParameterError{Param: "resolution", Value: s, Reason: "高さが整数ではありません"}
	}

	return NewResolution(w, h)
}

// String は "WxH" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Horizontal, r.Vertical)
}

// MarshalText はJSON出力用に "WxH" 形式へ変換する
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Settings はデバイスを開く際のキャプチャ設定
type Settings struct {
	FPS        int        // フレームレート
	Resolution Resolution // 解像度
	Quality    int        // JPEG品質 (0-100)
}

// DefaultSettings はデフォルトのキャプチャ設定を返す
func DefaultSettings() Settings {
	return Settings{
		FPS:        DefaultFPS,
		Resolution: Resolution{Horizontal: DefaultWidth, Vertical: DefaultHeight},
		Quality:    DefaultQuality,
	}
}

// Validate は設定値の妥当性を検証する
func (s Settings) Validate() error {
	if err := validateFPS(s.FPS); err != nil {
		return err
	}
	if _, err := NewResolution(s.Resolution.Horizontal, s.Resolution.Vertical); err != nil {
		return err
	}
	return validateQuality(s.Quality)
}

// Device は開かれたキャプチャデバイスのハンドル
// 同一ハンドルへの並行呼び出しは行われない（Cameraのロックで直列化される）
type Device interface {
	// SetFPS は開いたままのデバイスにフレームレートを適用する
	SetFPS(fps int) error

	// SetQuality はエンコード品質を適用する
	SetQuality(quality int) error

	// ReadFrame は次のフレームを取得する
	// フレームがまだ無い場合は ErrNoFrame を返す
	ReadFrame() (image.Image, error)

	// Close はデバイスを解放する
	Close() error
}

// Opener はデバイスパスと設定からDeviceを開く
// 開けなかった場合はエラーを返す
type Opener interface {
	Open(path string, settings Settings) (Device, error)
}

// OpenerFunc は関数をOpenerとして扱うアダプタ
type OpenerFunc func(path string, settings Settings) (Device, error)

// Open はfを呼び出す
func (f OpenerFunc) Open(path string, settings Settings) (Device, error) {
	return f(path, settings)
}

// Encoder は生フレームをJPEGに圧縮する
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
}

// DeviceEntry は列挙されたカメラ名とデバイスパスの組
type DeviceEntry struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"device"`
}

// Enumerator はシステム上のカメラを列挙する
type Enumerator interface {
	Enumerate(ctx context.Context) ([]DeviceEntry, error)
}

// EnumeratorFunc は関数をEnumeratorとして扱うアダプタ
type EnumeratorFunc func(ctx context.Context) ([]DeviceEntry, error)

// Enumerate はfを呼び出す
func (f EnumeratorFunc) Enumerate(ctx context.Context) ([]DeviceEntry, error) {
	return f(ctx)
}

// Info はカメラ状態のスナップショット
type Info struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	FPS        int        `json:"fps"`
	Resolution Resolution `json:"resolution"`
	Quality    int        `json:"image_quality"`
	Capturing  bool       `json:"capturing"`
	Streaming  bool       `json:"streaming"`
	Session    string     `json:"session,omitempty"`
}

func validateFPS(fps int) error {
	if fps <= 0 {
		return &InvalidParameterError{Param: "fps", Value: strconv.Itoa(fps), Reason: "正の整数である必要があります"}
	}
	return nil
}

func validateQuality(quality int) error {
	if quality < 0 || quality > 100 {
		return &InvalidParameterError{Param: "quality", Value: strconv.Itoa(quality), Reason: "0から100の範囲である必要があります"}
	}
	return nil
}
