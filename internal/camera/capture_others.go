//go:build !linux

package camera

import "errors"

// errV4L2Unsupported はLinux以外でV4L2バックエンドを使った場合に返される
var errV4L2Unsupported = errors.New("V4L2キャプチャはこのプラットフォームでは未対応です")

func newWebcamOpener(BackendConfig) (Opener, error) {
	return OpenerFunc(func(string, Settings) (Device, error) {
		return nil, errV4L2Unsupported
	}), nil
}
