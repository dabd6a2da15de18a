//go:build gocv

package camera

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	builtinBackends[BackendGoCV] = newGoCVOpener
}

// gocvOpener は OpenCV の VideoCapture でデバイスを開く
type gocvOpener struct{}

func newGoCVOpener(BackendConfig) (Opener, error) {
	return gocvOpener{}, nil
}

// Open はデバイスを開き、バッファを1枚にして余分なフレームを溜めないようにする
func (gocvOpener) Open(path string, settings Settings) (Device, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("VideoCaptureの作成に失敗: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.New("VideoCaptureがデバイスをロックできませんでした")
	}

	vc.Set(gocv.VideoCaptureBufferSize, 1)
	vc.Set(gocv.VideoCaptureFrameWidth, float64(settings.Resolution.Horizontal))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(settings.Resolution.Vertical))
	vc.Set(gocv.VideoCaptureFPS, float64(settings.FPS))

	return &gocvDevice{vc: vc, mat: gocv.NewMat()}, nil
}

type gocvDevice struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (d *gocvDevice) SetFPS(fps int) error {
	d.vc.Set(gocv.VideoCaptureFPS, float64(fps))
	return nil
}

func (d *gocvDevice) SetQuality(int) error {
	return nil
}

func (d *gocvDevice) ReadFrame() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, ErrNoFrame
	}
	return d.mat.ToImage()
}

func (d *gocvDevice) Close() error {
	if err := d.mat.Close(); err != nil {
		return err
	}
	return d.vc.Close()
}
