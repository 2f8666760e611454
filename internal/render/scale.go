package render

import (
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Filter selects the resampling used when resizing.
type Filter string

// Supported filters. Nearest keeps pixel art crisp and is the default.
const (
	Nearest    Filter = "nearest"
	Bilinear   Filter = "bilinear"
	CatmullRom Filter = "catmullrom"
	Lanczos3   Filter = "lanczos3"
)

// Filters lists every supported filter name.
var Filters = []Filter{Nearest, Bilinear, CatmullRom, Lanczos3}

// ParseFilter parses a filter name. The empty string selects Nearest.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Nearest, nil
	}
	f := Filter(strings.ToLower(s))
	for _, known := range Filters {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// Scale resizes img to w x h pixels.
func Scale(img image.Image, w, h int, filter Filter) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}

	var interp draw.Interpolator
	switch filter {
	case Nearest, "":
		interp = draw.NearestNeighbor
	case Bilinear:
		interp = draw.BiLinear
	case CatmullRom:
		interp = draw.CatmullRom
	case Lanczos3:
		return toNRGBA(resize.Resize(uint(w), uint(h), img, resize.Lanczos3)), nil
	default:
		return nil, fmt.Errorf("unknown filter %q", filter)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// Thumbnail fits img into a size x size box keeping its aspect ratio.
// Small sprites are enlarged by the largest integer factor that fits, so
// pixels stay square; larger images are reduced with Lanczos resampling.
func Thumbnail(img image.Image, size int) (*image.NRGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid thumbnail size %d", size)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if b.Dx() <= size && b.Dy() <= size {
		factor := min(size/b.Dx(), size/b.Dy())
		return Scale(img, b.Dx()*factor, b.Dy()*factor, Nearest)
	}
	return toNRGBA(resize.Thumbnail(uint(size), uint(size), img, resize.Lanczos3)), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
