package render

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"math"
	"testing"

	"github.com/Faultbox/dmiscope/internal/dmitest"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

const rewindMeta = `# BEGIN DMI
version = 4.0
	width = 4
	height = 4
state = "spin"
	dirs = 1
	frames = 4
	delay = 1,2,3,4
	loop = 2
	rewind = 1
# END DMI
`

func decodeFixture(t *testing.T, meta string) *dmi.File {
	t.Helper()
	f, err := dmi.Decode(dmitest.Build(t, meta))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return f
}

func near(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	d := func(x, y uint32) bool {
		if x > y {
			x, y = y, x
		}
		return y-x <= 0x0300
	}
	return d(r1, r2) && d(g1, g2) && d(b1, b2) && d(a1, a2)
}

func TestGIFDelay(t *testing.T) {
	tests := []struct {
		ticks float64
		min   int
		want  int
	}{
		{1, 2, 10},
		{2, 2, 20},
		{0.1, 2, 2},
		{0, 2, 2},
		{1.5, 0, 15},
		{0.25, 5, 5},
		{6553.5, 2, 65535},
		{6554, 2, 65535},
		{1e300, 2, 65535},
		{math.Inf(1), 2, 65535},
		{math.NaN(), 2, 2},
		{-5, 2, 2},
		{1, 70000, 65535},
	}
	for _, tt := range tests {
		if got := GIFDelay(tt.ticks, tt.min); got != tt.want {
			t.Errorf("GIFDelay(%v, %d) = %d, want %d", tt.ticks, tt.min, got, tt.want)
		}
	}
}

func TestEncodeGIF_LongDelayDoesNotWrap(t *testing.T) {
	f := decodeFixture(t, `# BEGIN DMI
version = 4.0
	width = 4
	height = 4
state = "idle"
	dirs = 1
	frames = 2
	delay = 6554,1
# END DMI
`)
	a, err := NewAnimation(f, 0, dmi.South)
	if err != nil {
		t.Fatalf("NewAnimation() error = %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeGIF(&buf, a, GIFOptions{}); err != nil {
		t.Fatalf("EncodeGIF() error = %v", err)
	}
	g, err := gif.DecodeAll(&buf)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if g.Delay[0] != MaxDelay || g.Delay[1] != 10 {
		t.Errorf("Delay = %v, want [%d 10]", g.Delay, MaxDelay)
	}
}

func TestGIFLoopCount(t *testing.T) {
	for loop, want := range map[int]int{0: 0, 1: -1, 2: 1, 5: 4} {
		if got := GIFLoopCount(loop); got != want {
			t.Errorf("GIFLoopCount(%d) = %d, want %d", loop, got, want)
		}
	}
}

func TestNewAnimation_Direction(t *testing.T) {
	f := decodeFixture(t, dmitest.Human)
	walk, _ := f.State("walk")

	a, err := NewAnimation(f, walk, dmi.East)
	if err != nil {
		t.Fatalf("NewAnimation() error = %v", err)
	}
	if a.Len() != 4 || a.Loop != 0 {
		t.Fatalf("expected 4 frames looping forever, got %d frames loop %d", a.Len(), a.Loop)
	}
	// idle occupies cells 0-1, so walk starts at 2.
	for i, fr := range a.Frames {
		want := dmitest.CellColor(2 + i*4 + int(dmi.East))
		if got := fr.NRGBAAt(0, 0); got != want {
			t.Errorf("frame %d color = %v, want %v", i, got, want)
		}
	}

	if _, err := NewAnimation(f, walk, dmi.NorthEast); err == nil {
		t.Error("expected error for a direction the state does not have")
	}
}

func TestNewAnimation_Rewind(t *testing.T) {
	f := decodeFixture(t, rewindMeta)
	a, err := NewAnimation(f, 0, dmi.South)
	if err != nil {
		t.Fatalf("NewAnimation() error = %v", err)
	}

	wantCells := []int{0, 1, 2, 3, 2, 1}
	wantDelays := []float64{1, 2, 3, 4, 3, 2}
	if a.Len() != len(wantCells) {
		t.Fatalf("expected %d frames, got %d", len(wantCells), a.Len())
	}
	for i, cell := range wantCells {
		if got := a.Frames[i].NRGBAAt(0, 0); got != dmitest.CellColor(cell) {
			t.Errorf("frame %d shows cell color %v, want cell %d", i, got, cell)
		}
		if a.Delays[i] != wantDelays[i] {
			t.Errorf("frame %d delay = %v, want %v", i, a.Delays[i], wantDelays[i])
		}
	}
}

func TestEncodeGIF(t *testing.T) {
	f := decodeFixture(t, rewindMeta)
	a, _ := NewAnimation(f, 0, dmi.South)

	for _, q := range []Quantizer{MedianCut, GoGIF} {
		t.Run(string(q), func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeGIF(&buf, a, GIFOptions{Quantizer: q}); err != nil {
				t.Fatalf("EncodeGIF() error = %v", err)
			}
			g, err := gif.DecodeAll(&buf)
			if err != nil {
				t.Fatalf("DecodeAll() error = %v", err)
			}

			if len(g.Image) != 6 {
				t.Fatalf("expected 6 frames, got %d", len(g.Image))
			}
			if g.LoopCount != 1 {
				t.Errorf("LoopCount = %d, want 1 for loop = 2", g.LoopCount)
			}
			wantDelays := []int{10, 20, 30, 40, 30, 20}
			for i, img := range g.Image {
				if g.Delay[i] != wantDelays[i] {
					t.Errorf("frame %d delay = %d, want %d", i, g.Delay[i], wantDelays[i])
				}
				if g.Disposal[i] != gif.DisposalBackground {
					t.Errorf("frame %d disposal = %d", i, g.Disposal[i])
				}
				if _, _, _, alpha := img.Palette[0].RGBA(); alpha != 0 {
					t.Errorf("frame %d palette index 0 is not transparent", i)
				}
				if got := img.At(1, 1); !near(got, dmitest.CellColor([]int{0, 1, 2, 3, 2, 1}[i])) {
					t.Errorf("frame %d color = %v", i, got)
				}
			}
		})
	}
}

func TestEncodeGIF_TransparencyAndClamp(t *testing.T) {
	fr := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	fr.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	a := &Animation{Frames: []*image.NRGBA{fr}, Delays: []float64{0.05}, Loop: 1}

	var buf bytes.Buffer
	if err := EncodeGIF(&buf, a, GIFOptions{MinDelay: 3}); err != nil {
		t.Fatalf("EncodeGIF() error = %v", err)
	}
	g, err := gif.DecodeAll(&buf)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if g.Delay[0] != 3 {
		t.Errorf("delay = %d, want clamped 3", g.Delay[0])
	}
	if g.LoopCount != -1 {
		t.Errorf("LoopCount = %d, want -1 for a single pass", g.LoopCount)
	}
	if idx := g.Image[0].ColorIndexAt(0, 0); idx != 0 {
		t.Errorf("transparent pixel uses palette index %d, want 0", idx)
	}
	if !near(g.Image[0].At(1, 1), color.NRGBA{R: 200, A: 255}) {
		t.Errorf("opaque pixel = %v", g.Image[0].At(1, 1))
	}
}

func TestEncodeGIF_Scaled(t *testing.T) {
	f := decodeFixture(t, dmitest.Door)
	a, _ := NewAnimation(f, 0, dmi.South)

	g, err := a.GIF(GIFOptions{Scale: 3})
	if err != nil {
		t.Fatalf("GIF() error = %v", err)
	}
	if b := g.Image[0].Bounds(); b.Dx() != 12 || b.Dy() != 12 {
		t.Errorf("scaled frame is %v, want 12x12", b)
	}
	if _, err := a.Scaled(0, Nearest); err == nil {
		t.Error("expected error for scale factor 0")
	}
}

func TestScale(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src.SetNRGBA(0, 0, red)
	src.SetNRGBA(1, 0, blue)
	src.SetNRGBA(0, 1, blue)
	src.SetNRGBA(1, 1, red)

	got, err := Scale(src, 4, 4, Nearest)
	if err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	for _, p := range []image.Point{{0, 0}, {1, 1}, {3, 3}} {
		if got.NRGBAAt(p.X, p.Y) != red {
			t.Errorf("pixel %v = %v, want red", p, got.NRGBAAt(p.X, p.Y))
		}
	}
	if got.NRGBAAt(2, 0) != blue {
		t.Errorf("pixel (2,0) = %v, want blue", got.NRGBAAt(2, 0))
	}

	for _, f := range Filters {
		out, err := Scale(src, 6, 3, f)
		if err != nil {
			t.Errorf("Scale(%s) error = %v", f, err)
			continue
		}
		if b := out.Bounds(); b.Dx() != 6 || b.Dy() != 3 {
			t.Errorf("Scale(%s) size = %v", f, b)
		}
	}

	if _, err := Scale(src, 4, 4, "sinc"); err == nil {
		t.Error("expected error for unknown filter")
	}
	if _, err := Scale(src, 0, 4, Nearest); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestParseFilterAndQuantizer(t *testing.T) {
	if f, err := ParseFilter("Lanczos3"); err != nil || f != Lanczos3 {
		t.Errorf("ParseFilter(Lanczos3) = %q, %v", f, err)
	}
	if f, _ := ParseFilter(""); f != Nearest {
		t.Errorf("empty filter = %q, want nearest", f)
	}
	if _, err := ParseFilter("box"); err == nil {
		t.Error("expected error for unknown filter")
	}
	if q, _ := ParseQuantizer(""); q != MedianCut {
		t.Errorf("empty quantizer = %q, want mediancut", q)
	}
	if q, err := ParseQuantizer("GOGIF"); err != nil || q != GoGIF {
		t.Errorf("ParseQuantizer(GOGIF) = %q, %v", q, err)
	}
	if _, err := ParseQuantizer("octree"); err == nil {
		t.Error("expected error for unknown quantizer")
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		w, h, size   int
		wantW, wantH int
	}{
		{4, 4, 64, 64, 64},
		{32, 32, 48, 32, 32},
		{100, 50, 64, 64, 32},
	}
	for _, tt := range tests {
		img := image.NewNRGBA(image.Rect(0, 0, tt.w, tt.h))
		got, err := Thumbnail(img, tt.size)
		if err != nil {
			t.Fatalf("Thumbnail() error = %v", err)
		}
		if b := got.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("Thumbnail(%dx%d, %d) = %v, want %dx%d", tt.w, tt.h, tt.size, b, tt.wantW, tt.wantH)
		}
	}
	if _, err := Thumbnail(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 0); err == nil {
		t.Error("expected error for size 0")
	}
}

func TestStrip(t *testing.T) {
	f := decodeFixture(t, dmitest.Human)
	walk, _ := f.State("walk")
	a, _ := NewAnimation(f, walk, dmi.North)

	strip := Strip(a.Frames)
	if b := strip.Bounds(); b.Dx() != 16 || b.Dy() != 4 {
		t.Fatalf("strip size = %v, want 16x4", b)
	}
	for i := 0; i < 4; i++ {
		want := dmitest.CellColor(2 + i*4 + int(dmi.North))
		if got := strip.NRGBAAt(i*4+1, 1); got != want {
			t.Errorf("strip frame %d color = %v, want %v", i, got, want)
		}
	}

	data, err := PNGBytes(strip)
	if err != nil || len(data) == 0 {
		t.Errorf("PNGBytes() = %d bytes, %v", len(data), err)
	}
	if Strip(nil).Bounds().Dx() != 0 {
		t.Error("expected empty strip for no frames")
	}
}
