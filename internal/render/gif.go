package render

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"math"
	"strings"

	"github.com/andybons/gogif"
	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/draw"
)

// DefaultMinDelay is the shortest GIF frame delay, in hundredths of a
// second, that common players honor. Shorter delays are clamped to it.
const DefaultMinDelay = 2

// MaxDelay is the longest delay a GIF frame can carry. The field is a
// 16-bit count of hundredths of a second.
const MaxDelay = 65535

// Quantizer selects the palette reduction used for GIF frames.
type Quantizer string

// Supported quantizers.
const (
	MedianCut Quantizer = "mediancut"
	GoGIF     Quantizer = "gogif"
)

// ParseQuantizer parses a quantizer name. The empty string selects
// MedianCut.
func ParseQuantizer(s string) (Quantizer, error) {
	switch q := Quantizer(strings.ToLower(s)); q {
	case "":
		return MedianCut, nil
	case MedianCut, GoGIF:
		return q, nil
	}
	return "", fmt.Errorf("unknown quantizer %q", s)
}

// GIFOptions controls GIF encoding.
type GIFOptions struct {
	MinDelay  int // hundredths of a second; 0 means DefaultMinDelay
	Quantizer Quantizer
	Scale     int // integer upscale factor; 0 means 1
	Filter    Filter
}

// GIFDelay converts a delay in ticks to GIF hundredths of a second,
// clamped to [minDelay, MaxDelay].
func GIFDelay(ticks float64, minDelay int) int {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	minDelay = min(minDelay, MaxDelay)
	cs := math.Round(ticks * 10)
	switch {
	case math.IsNaN(cs) || cs <= float64(minDelay):
		return minDelay
	case cs >= MaxDelay:
		return MaxDelay
	}
	return int(cs)
}

// GIFLoopCount maps a play count (0 = forever) to the GIF LoopCount field,
// which counts repetitions after the first pass and uses -1 for play once.
func GIFLoopCount(loop int) int {
	switch {
	case loop <= 0:
		return 0
	case loop == 1:
		return -1
	default:
		return loop - 1
	}
}

// GIF builds the paletted animation. Palette index 0 of every frame is
// transparent and frames are disposed to the background, so transparent
// areas never show the previous frame.
func (a *Animation) GIF(opts GIFOptions) (*gif.GIF, error) {
	if a.Len() == 0 {
		return nil, fmt.Errorf("animation has no frames")
	}
	if opts.Scale > 1 {
		scaled, err := a.Scaled(opts.Scale, opts.Filter)
		if err != nil {
			return nil, err
		}
		a = scaled
	}

	g := &gif.GIF{LoopCount: GIFLoopCount(a.Loop), BackgroundIndex: 0}
	for i, fr := range a.Frames {
		pal, err := quantizeFrame(fr, opts.Quantizer)
		if err != nil {
			return nil, err
		}
		g.Image = append(g.Image, pal)
		g.Delay = append(g.Delay, GIFDelay(a.Delays[i], opts.MinDelay))
		g.Disposal = append(g.Disposal, gif.DisposalBackground)
	}
	return g, nil
}

// EncodeGIF writes the animation as an animated GIF.
func EncodeGIF(w io.Writer, a *Animation, opts GIFOptions) error {
	g, err := a.GIF(opts)
	if err != nil {
		return err
	}
	return gif.EncodeAll(w, g)
}

// quantizeFrame reduces img to at most 255 colors plus the transparent
// entry at index 0.
func quantizeFrame(img image.Image, q Quantizer) (*image.Paletted, error) {
	b := img.Bounds()

	var palette color.Palette
	switch q {
	case MedianCut, "":
		mc := quantize.MedianCutQuantizer{}
		palette = mc.Quantize(make(color.Palette, 0, 255), img)
	case GoGIF:
		// gogif only quantizes into a destination image.
		tmp := image.NewPaletted(b, nil)
		mc := gogif.MedianCutQuantizer{NumColor: 255}
		mc.Quantize(tmp, b, img, b.Min)
		palette = tmp.Palette
	default:
		return nil, fmt.Errorf("unknown quantizer %q", q)
	}

	full := append(color.Palette{color.Transparent}, palette...)
	dst := image.NewPaletted(b, full)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst, nil
}
