package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStreaming はストリーミング中のカメラで再度ストリームを開始した場合に返される
	ErrAlreadyStreaming = errors.New("カメラは既にストリーミング中です")

	// ErrNotStreaming はストリーミングしていないカメラのストリームを終了しようとした場合に返される
	ErrNotStreaming = errors.New("カメラはストリーミングしていません")

	// ErrNoFrame はデバイスにまだフレームが無い場合に返される
	ErrNoFrame = errors.New("フレームがまだ取得されていません")

	// ErrStreamEnded はストリームセッションが終了した後に返される
	ErrStreamEnded = errors.New("ストリームは終了しました")

	// errNotCapturing はデバイスハンドルが開いていないことを示す
	errNotCapturing = errors.New("デバイスが開かれていません")
)

// NotFoundError は名前に一致するカメラが無い場合のエラー
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("カメラが見つかりません: %s", e.Name)
}

// NotStartedError はデバイスハンドルが必要な操作を未開始のカメラに行った場合のエラー
type NotStartedError struct {
	Action string // 試みた操作
	Name   string // カメラ名
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("%s中のエラー: カメラ %s は開始されていません。先にカメラを開始してください", e.Action, e.Name)
}

// DeviceOpenError はキャプチャデバイスの取得に失敗した場合のエラー
type DeviceOpenError struct {
	Name string
	Path string
	Err  error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("カメラ %s (%s) の開始に失敗: %v", e.Name, e.Path, e.Err)
}

func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

// InvalidParameterError は範囲外のパラメータを受け取った場合のエラー
// 状態は変更されない
type InvalidParameterError struct {
	Param  string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("無効な%s: %s (%s)", e.Param, e.Value, e.Reason)
}
