package render

import (
	"bytes"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// EncodePNG writes img as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

// PNGBytes encodes img as a PNG in memory.
func PNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Strip lays the frames out left to right in playback order.
func Strip(frames []*image.NRGBA) *image.NRGBA {
	if len(frames) == 0 {
		return image.NewNRGBA(image.Rectangle{})
	}
	w, h := 0, 0
	for _, fr := range frames {
		w += fr.Bounds().Dx()
		h = max(h, fr.Bounds().Dy())
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	x := 0
	for _, fr := range frames {
		b := fr.Bounds()
		draw.Copy(out, image.Pt(x, 0), fr, b, draw.Src, nil)
		x += b.Dx()
	}
	return out
}
