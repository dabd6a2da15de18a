package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// rawFrame はデバイスから読み込んだ未圧縮フレームと、その時点のJPEG品質
type rawFrame struct {
	image   image.Image
	quality int
}

// Stream は1回のストリーミングセッションで、エンコード済みJPEGを順に返す
//
// Next はフレーム間隔に合わせてフレームを1枚返すか、セッション終了時に
// ErrStreamEnded を返す。終了時にはデバイスを解放する。
// 1つのStreamを複数のゴルーチンから同時に読んではならない。
type Stream struct {
	camera *Camera
	sess   *session

	last      time.Time // 最後にフレームを送出した（または試みた）時刻
	closeOnce sync.Once
}

func newStream(c *Camera, sess *session) *Stream {
	return &Stream{camera: c, sess: sess}
}

// ID はセッションIDを返す
func (s *Stream) ID() string {
	return s.sess.id
}

// Camera はストリーム元のカメラを返す
func (s *Stream) Camera() *Camera {
	return s.camera
}

// Next は次のフレームを送出すべき時刻まで待ち、エンコード済みJPEGを返す
//
// fpsは毎回カメラから読み直すため、変更は次の確認で反映される。
// デバイスが開いていない間は idleWait だけ待ってから再確認する。
// 単一フレームの読み込みやエンコードの失敗はそのフレームを飛ばすだけで、ストリームは続行する。
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.ended(ctx) {
			s.Close()
			return nil, ErrStreamEnded
		}

		interval := s.camera.frameInterval()
		now := time.Now()
		if !s.last.IsZero() {
			if remaining := interval - now.Sub(s.last); remaining > 0 {
				if !s.wait(ctx, min(remaining, s.camera.pollInterval)) {
					s.Close()
					return nil, ErrStreamEnded
				}
				continue
			}
		}

		frame, err := s.camera.readFrame(s.sess)
		switch {
		case errors.Is(err, ErrStreamEnded):
			s.Close()
			return nil, ErrStreamEnded
		case errors.Is(err, errNotCapturing):
			if !s.wait(ctx, s.camera.idleWait) {
				s.Close()
				return nil, ErrStreamEnded
			}
			continue
		case err != nil:
			s.camera.logger.Debug("フレームの読み込みに失敗", "session", s.sess.id, "error", err)
			s.last = now
			continue
		}

		buf, err := s.camera.encoder.Encode(frame.image, frame.quality)
		if err != nil {
			s.camera.logger.Debug("フレームのエンコードに失敗", "session", s.sess.id, "error", err)
			s.last = now
			continue
		}

		s.last = now
		return buf, nil
	}
}

// Close はセッションがまだ有効であれば終了させ、デバイスを解放する
// 何度呼んでも安全
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.camera.finish(s.sess)
	})
}

// Done はセッション終了時に閉じられるチャンネルを返す
func (s *Stream) Done() <-chan struct{} {
	return s.sess.done
}

func (s *Stream) ended(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.sess.done:
		return true
	default:
		return false
	}
}

// wait はdだけ待つ。途中でセッション終了かctxのキャンセルがあればfalseを返す
func (s *Stream) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.sess.done:
		return false
	case <-timer.C:
		return true
	}
}
