package dmi

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/draw"
)

// TickDuration is the length of one delay tick.
const TickDuration = 100 * time.Millisecond

// Frame is one sliced image of a direction's animation.
type Frame struct {
	Image   *image.NRGBA
	Delay   float64 // ticks
	Hotspot *Hotspot
}

// Duration returns the frame delay as a time.Duration.
func (fr Frame) Duration() time.Duration {
	return time.Duration(fr.Delay * float64(TickDuration))
}

// DirectionFrames is the ordered frame sequence of one direction.
type DirectionFrames struct {
	Dir    Direction
	Frames []Frame
}

// CellRect returns the sheet rectangle of the cell with the given linear
// index. Cells are numbered row-major from the top-left corner.
func CellRect(cellW, cellH, columns, index int) image.Rectangle {
	x := (index % columns) * cellW
	y := (index / columns) * cellH
	return image.Rect(x, y, x+cellW, y+cellH)
}

// Slice copies a single cell out of a sheet. The returned image has its
// origin at (0, 0).
func Slice(sheet image.Image, cellW, cellH, columns, index int) *image.NRGBA {
	r := CellRect(cellW, cellH, columns, index).Add(sheet.Bounds().Min)
	out := image.NewNRGBA(image.Rect(0, 0, cellW, cellH))
	draw.Copy(out, image.Point{}, sheet, r, draw.Src, nil)
	return out
}

// Frame slices frame f of direction d of the state at index state.
func (f *File) Frame(state int, d Direction, frame int) (Frame, error) {
	if f.sheet == nil {
		return Frame{}, ErrNoPixels
	}
	if state < 0 || state >= len(f.States) {
		return Frame{}, fmt.Errorf("%w: state index %d", ErrRange, state)
	}
	s := &f.States[state]
	if int(d) >= s.Dirs {
		return Frame{}, fmt.Errorf("%w: state %q has %d dirs, no %s", ErrRange, s.Name, s.Dirs, d)
	}
	if frame < 0 || frame >= s.Frames {
		return Frame{}, fmt.Errorf("%w: state %q has %d frames, no frame %d", ErrRange, s.Name, s.Frames, frame)
	}

	fr := Frame{
		Image: Slice(f.sheet, f.CellWidth, f.CellHeight, f.Columns, s.Cell(d, frame)),
		Delay: s.Delays[frame],
	}
	if h, ok := s.Hotspot(d, frame); ok {
		fr.Hotspot = &h
	}
	return fr, nil
}

// Frames slices every frame of direction d of the state at index state.
func (f *File) Frames(state int, d Direction) ([]Frame, error) {
	if state < 0 || state >= len(f.States) {
		return nil, fmt.Errorf("%w: state index %d", ErrRange, state)
	}
	out := make([]Frame, 0, f.States[state].Frames)
	for i := 0; i < f.States[state].Frames; i++ {
		fr, err := f.Frame(state, d, i)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, nil
}

// Directions slices every direction of the state at index state.
func (f *File) Directions(state int) ([]DirectionFrames, error) {
	if state < 0 || state >= len(f.States) {
		return nil, fmt.Errorf("%w: state index %d", ErrRange, state)
	}
	var out []DirectionFrames
	for _, d := range Directions(f.States[state].Dirs) {
		frames, err := f.Frames(state, d)
		if err != nil {
			return nil, err
		}
		out = append(out, DirectionFrames{Dir: d, Frames: frames})
	}
	return out, nil
}
