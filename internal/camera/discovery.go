package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// V4L2Enumerator は v4l2-ctl --list-devices の出力からカメラを列挙する
type V4L2Enumerator struct {
	command string
	timeout time.Duration
}

// NewV4L2Enumerator は新しいV4L2Enumeratorを作成する
func NewV4L2Enumerator() *V4L2Enumerator {
	return &V4L2Enumerator{
		command: "v4l2-ctl",
		timeout: 5 * time.Second,
	}
}

// Enumerate は v4l2-ctl を実行してカメラ名とデバイスパスを取得する
// デバイスが1台も無い場合 v4l2-ctl は非0で終了するため、その場合はエラーを返す
func (e *V4L2Enumerator) Enumerate(ctx context.Context) ([]DeviceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command, "--list-devices")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s --list-devices の実行に失敗: %w", e.command, err)
	}

	return ParseListDevices(string(output)), nil
}

// ParseListDevices は v4l2-ctl --list-devices の出力を解析する
//
// 出力形式:
//
//	HD Webcam: HD Webcam (usb-0000:00:14.0-1):
//		/dev/video0
//		/dev/video1
//		/dev/media0
//
// カメラ名は見出し行の最初の ':' より前。各ブロックの /dev/video* のうち
// 最初のものをデバイスパスとし、無ければ最初の /dev/ パスを使う。
// パスを持たない見出しは無視する。
func ParseListDevices(output string) []DeviceEntry {
	var entries []DeviceEntry

	var name string
	var paths []string
	flush := func() {
		if name != "" {
			if path := pickDevicePath(paths); path != "" {
				entries = append(entries, DeviceEntry{Name: name, Path: path})
			}
		}
		name = ""
		paths = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\t", ""))
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/dev/") {
			paths = append(paths, line)
			continue
		}

		// 新しい見出し行
		flush()
		name = strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
	}
	flush()

	return entries
}

func pickDevicePath(paths []string) string {
	for _, p := range paths {
		if strings.HasPrefix(p, "/dev/video") {
			return p
		}
	}
	if len(paths) > 0 {
		return paths[0]
	}
	return ""
}

// StaticEnumerator は設定ファイル等で与えられた固定のカメラ一覧を返す
type StaticEnumerator []DeviceEntry

// Enumerate は保持している一覧のコピーを返す
func (s StaticEnumerator) Enumerate(_ context.Context) ([]DeviceEntry, error) {
	entries := make([]DeviceEntry, len(s))
	copy(entries, s)
	return entries, nil
}
