// Package render turns decoded icon states into exportable images: animated
// GIFs, single frames, horizontal sprite strips and thumbnails.
//
// Renderers never touch the artifact cache; callers wrap them with
// cache.GetOrRender.
package render

import (
	"fmt"
	"image"

	"github.com/Faultbox/dmiscope/pkg/dmi"
)

// Animation is the playback sequence of one direction of a state.
type Animation struct {
	Frames []*image.NRGBA
	Delays []float64 // ticks, one per frame

	// Loop is the number of times the sequence plays; 0 repeats forever.
	Loop int
}

// NewAnimation slices the frames of direction d of the state at index
// state. For rewinding states the sequence plays forward, then backward
// without repeating the first and last frame.
func NewAnimation(f *dmi.File, state int, d dmi.Direction) (*Animation, error) {
	frames, err := f.Frames(state, d)
	if err != nil {
		return nil, err
	}

	s := &f.States[state]
	a := &Animation{Loop: s.Loop}
	for _, fr := range frames {
		a.Frames = append(a.Frames, fr.Image)
		a.Delays = append(a.Delays, fr.Delay)
	}
	if s.Rewind {
		for i := len(frames) - 2; i > 0; i-- {
			a.Frames = append(a.Frames, frames[i].Image)
			a.Delays = append(a.Delays, frames[i].Delay)
		}
	}
	return a, nil
}

// Len returns the number of frames in the sequence.
func (a *Animation) Len() int {
	return len(a.Frames)
}

// Scaled returns a copy of the animation with every frame resized by an
// integer factor.
func (a *Animation) Scaled(factor int, filter Filter) (*Animation, error) {
	if factor < 1 {
		return nil, fmt.Errorf("invalid scale factor %d", factor)
	}
	if factor == 1 {
		return a, nil
	}
	out := &Animation{Delays: a.Delays, Loop: a.Loop}
	for _, fr := range a.Frames {
		b := fr.Bounds()
		scaled, err := Scale(fr, b.Dx()*factor, b.Dy()*factor, filter)
		if err != nil {
			return nil, err
		}
		out.Frames = append(out.Frames, scaled)
	}
	return out, nil
}
