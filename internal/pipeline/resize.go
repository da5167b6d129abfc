package pipeline

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

type Resizer interface {
	Resize(ctx context.Context, src image.Image, width, height int) (image.Image, error)
}

// ScaleResizer draws the source into a fresh RGB raster with a single
// scaled draw. The source image is never modified.
type ScaleResizer struct {
	Interpolator draw.Interpolator
}

func (r ScaleResizer) Resize(ctx context.Context, src image.Image, width, height int) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", width, height)
	}
	if src == nil {
		return nil, fmt.Errorf("source image is required")
	}
	srcBounds := src.Bounds()
	if srcBounds.Dx() == 0 || srcBounds.Dy() == 0 {
		return nil, fmt.Errorf("source image has invalid dimensions")
	}

	interp := r.Interpolator
	if interp == nil {
		interp = draw.ApproxBiLinear
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	interp.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst, nil
}
