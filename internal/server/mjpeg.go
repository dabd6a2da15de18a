package server

import "io"

const (
	// mjpegBoundary はmultipartの区切り文字列
	mjpegBoundary = "frame"

	mjpegContentType = "multipart/x-mixed-replace; boundary=" + mjpegBoundary

	// sessionHeader はストリームのセッションIDを返すヘッダー
	sessionHeader = "X-Stream-Session"
)

var (
	partHeader  = []byte("--" + mjpegBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// writePart はJPEG 1枚をmultipartのパートとして書き込む
//
//	--frame
//	Content-Type: image/jpeg
//
//	<jpeg>
func writePart(w io.Writer, frame []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write(partTrailer)
	return err
}
