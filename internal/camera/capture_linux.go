//go:build linux

package camera

import (
	"image"
	"log/slog"
	"time"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// webcamOpener は blackjack/webcam でV4L2デバイスを開く
type webcamOpener struct {
	readTimeout uint32 // 秒
	bufferCount uint32
	logger      *slog.Logger
}

func newWebcamOpener(cfg BackendConfig) (Opener, error) {
	timeout := uint32(cfg.ReadTimeout / time.Second)
	if timeout == 0 {
		timeout = 1
	}
	return &webcamOpener{
		readTimeout: timeout,
		bufferCount: uint32(cfg.BufferCount),
		logger:      cfg.Logger,
	}, nil
}

// Open はデバイスを開き、フォーマット・解像度・フレームレートを設定してストリーミングを開始する
func (o *webcamOpener) Open(path string, settings Settings) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "デバイスを開けません")
	}

	supported := make(map[uint32]string)
	for format, desc := range cam.GetSupportedFormats() {
		supported[uint32(format)] = desc
	}
	format, err := selectPixelFormat(supported)
	if err != nil {
		cam.Close()
		return nil, err
	}

	_, width, height, err := cam.SetImageFormat(
		webcam.PixelFormat(format),
		uint32(settings.Resolution.Horizontal),
		uint32(settings.Resolution.Vertical),
	)
	if err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "画像フォーマットの設定に失敗")
	}

	if err := cam.SetBufferCount(o.bufferCount); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "バッファ数の設定に失敗")
	}

	if err := cam.SetFramerate(float32(settings.FPS)); err != nil {
		// フレームレート設定に非対応のドライバーもある
		o.logger.Warn("フレームレートの設定に失敗", "path", path, "fps", settings.FPS, "error", err)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrap(err, "ストリーミングを開始できません")
	}

	if int(width) != settings.Resolution.Horizontal || int(height) != settings.Resolution.Vertical {
		o.logger.Info("ドライバーが解像度を調整しました",
			"path", path,
			"requested", settings.Resolution.String(),
			"actual", Resolution{Horizontal: int(width), Vertical: int(height)}.String(),
		)
	}

	return &webcamDevice{
		cam:     cam,
		format:  format,
		width:   int(width),
		height:  int(height),
		timeout: o.readTimeout,
	}, nil
}

// webcamDevice は開いたV4L2デバイス
type webcamDevice struct {
	cam     *webcam.Webcam
	format  uint32
	width   int
	height  int
	timeout uint32
}

func (d *webcamDevice) SetFPS(fps int) error {
	return errors.Wrap(d.cam.SetFramerate(float32(fps)), "フレームレートの設定に失敗")
}

// SetQuality はエンコード側で適用されるため、デバイスには何もしない
func (d *webcamDevice) SetQuality(int) error {
	return nil
}

func (d *webcamDevice) ReadFrame() (image.Image, error) {
	err := d.cam.WaitForFrame(d.timeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, ErrNoFrame
	default:
		return nil, errors.Wrap(err, "フレーム待ちに失敗")
	}

	frame, err := d.cam.ReadFrame()
	if err != nil {
		return nil, errors.Wrap(err, "フレームの読み込みに失敗")
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}

	return decodeFrame(d.format, frame, d.width, d.height)
}

func (d *webcamDevice) Close() error {
	if err := d.cam.StopStreaming(); err != nil {
		d.cam.Close()
		return errors.Wrap(err, "ストリーミングの停止に失敗")
	}
	return errors.Wrap(d.cam.Close(), "デバイスのクローズに失敗")
}
