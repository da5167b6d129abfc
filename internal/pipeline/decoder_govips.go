//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// nativeDecode hands formats such as HEIF or JPEG 2000 to libvips and
// converts the result into a Go image through a lossless PNG export.
func nativeDecode(data []byte) (image.Image, string, error) {
	if err := Startup(); err != nil {
		return nil, "", err
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer ref.Close()

	format := vipsFormatName(vips.DetermineImageType(data))
	encoded, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("export %s as png: %w", format, err)
	}

	img, err := png.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s via png: %w", format, err)
	}
	return img, format, nil
}

func vipsFormatName(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeTIFF:
		return "tiff"
	case vips.ImageTypeHEIF:
		return "heif"
	default:
		return "native"
	}
}
