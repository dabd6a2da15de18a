package camera

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

// JPEGEncoder は image/jpeg を使うEncoder実装
// バッファはsync.Poolで再利用する
type JPEGEncoder struct {
	pool sync.Pool
}

// NewJPEGEncoder は新しいJPEGEncoderを作成する
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Encode はimgを指定品質でJPEGに圧縮する
// image/jpeg の品質は1-100のため、0は1として扱われる
func (e *JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	buf := e.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.pool.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
