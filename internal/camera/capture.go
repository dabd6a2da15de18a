package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// fourcc はV4L2のピクセルフォーマットコードを作る
func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	pixelFormatMJPEG = fourcc('M', 'J', 'P', 'G')
	pixelFormatYUYV  = fourcc('Y', 'U', 'Y', 'V')
)

// selectPixelFormat は対応フォーマットからMJPEG、次にYUYVを選ぶ
func selectPixelFormat(supported map[uint32]string) (uint32, error) {
	for _, want := range []uint32{pixelFormatMJPEG, pixelFormatYUYV} {
		if _, ok := supported[want]; ok {
			return want, nil
		}
	}

	names := make([]string, 0, len(supported))
	for _, desc := range supported {
		names = append(names, desc)
	}
	return 0, fmt.Errorf("MJPEGまたはYUYVに対応していません (対応フォーマット: %v)", names)
}

// decodeFrame はフォーマットに応じて生フレームを画像に変換する
func decodeFrame(format uint32, data []byte, width, height int) (image.Image, error) {
	switch format {
	case pixelFormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("MJPEGフレームのデコードに失敗: %w", err)
		}
		return img, nil
	case pixelFormatYUYV:
		return yuyvToYCbCr(data, width, height)
	default:
		return nil, fmt.Errorf("未対応のピクセルフォーマット: %#x", format)
	}
}

// yuyvToYCbCr はYUYV(4:2:2)のパックドデータをimage.YCbCrに変換する
func yuyvToYCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("無効なフレームサイズ: %dx%d", width, height)
	}
	if len(data) < width*height*2 {
		return nil, fmt.Errorf("YUYVフレームが短すぎます: %d bytes (期待値 %d)", len(data), width*height*2)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	pairs := width / 2

	for y := 0; y < height; y++ {
		row := data[y*width*2:]
		for i := 0; i < pairs; i++ {
			px := row[i*4 : i*4+4]
			img.Y[y*img.YStride+2*i] = px[0]
			img.Y[y*img.YStride+2*i+1] = px[2]
			img.Cb[y*img.CStride+i] = px[1]
			img.Cr[y*img.CStride+i] = px[3]
		}
	}

	return img, nil
}
