package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const DefaultJPEGQuality = 85

var ErrUnsupportedFormat = errors.New("unsupported image format")

// DecodeImage decodes the first frame of a still image. Formats the Go
// decoders do not know are handed to the native decoder when the binary is
// built with it.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}
	if !errors.Is(err, image.ErrFormat) {
		return nil, "", fmt.Errorf("decode %s image: %w", format, err)
	}

	img, format, err = nativeDecode(data)
	if err != nil {
		return nil, "", err
	}
	return img, format, nil
}

// EncodeJPEG renders img as a baseline JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
