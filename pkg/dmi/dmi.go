// Package dmi decodes DMI files: PNG sprite sheets carrying a text chunk
// that describes how to slice the sheet into animated icon states.
//
// Decoding runs in two stages. ParseContainer verifies the PNG chunk
// structure, ParseMetadata parses the embedded grammar. Decode ties both
// together, validates the declared geometry against the sheet and keeps the
// pixels so frames can be sliced lazily.
package dmi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// File is a decoded DMI file.
type File struct {
	Path        string
	Fingerprint string

	// Sheet dimensions in pixels.
	Width  int
	Height int

	// Grid geometry derived from the cell size.
	Columns int
	Rows    int

	Metadata

	sheet *image.NRGBA
}

// Fingerprint returns the content fingerprint of raw file bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decode parses a DMI file from raw bytes, including its pixel data.
func Decode(data []byte) (*File, error) {
	return decode(data, true)
}

// DecodeInfo parses a DMI file from raw bytes without inflating the pixel
// data. The geometry is still validated. Frames cannot be sliced from the
// result.
func DecodeInfo(data []byte) (*File, error) {
	return decode(data, false)
}

// DecodeFile reads and decodes a DMI file from disk.
func DecodeFile(path string) (*File, error) {
	return decodeFile(path, true)
}

// DecodeInfoFile reads a DMI file from disk and decodes it without pixels.
func DecodeInfoFile(path string) (*File, error) {
	return decodeFile(path, false)
}

func decodeFile(path string, pixels bool) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading DMI file: %w", err)
	}
	f, err := decode(data, pixels)
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	f.Path = path
	return f, nil
}

func decode(data []byte, pixels bool) (*File, error) {
	c, err := ParseContainer(data)
	if err != nil {
		return nil, err
	}

	text, ok, err := c.Description()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, metadataf("no Description text chunk")
	}

	meta, err := ParseMetadata(text)
	if err != nil {
		return nil, err
	}

	f := &File{
		Fingerprint: Fingerprint(data),
		Width:       c.Width,
		Height:      c.Height,
		Metadata:    *meta,
	}
	if err := f.layout(); err != nil {
		return nil, err
	}

	if pixels {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, formatf("decoding pixels: %v", err)
		}
		f.sheet = toNRGBA(img)
	}

	return f, nil
}

// layout assigns every state its first cell and checks that all declared
// images fit on the sheet.
func (f *File) layout() error {
	if len(f.States) == 0 {
		f.Columns = f.Width / f.CellWidth
		f.Rows = f.Height / f.CellHeight
		return nil
	}
	if f.CellWidth > f.Width || f.CellHeight > f.Height {
		return geometryf("cell size %dx%d exceeds sheet %dx%d", f.CellWidth, f.CellHeight, f.Width, f.Height)
	}

	f.Columns = f.Width / f.CellWidth
	f.Rows = f.Height / f.CellHeight
	capacity := f.Columns * f.Rows

	next := 0
	for i := range f.States {
		s := &f.States[i]
		s.Offset = next
		// Compared without multiplying so huge declarations cannot wrap.
		if s.Frames > (capacity-next)/s.Dirs {
			return geometryf("state %q needs %d dirs of %d frames from cell %d, sheet %dx%d holds %d cells of %dx%d",
				s.Name, s.Dirs, s.Frames, next, f.Width, f.Height, capacity, f.CellWidth, f.CellHeight)
		}
		next += s.Cells()
	}
	return nil
}

// HasPixels reports whether the file was decoded with its pixel data.
func (f *File) HasPixels() bool {
	return f.sheet != nil
}

// Sheet returns the whole sprite sheet, or nil when decoded without pixels.
func (f *File) Sheet() *image.NRGBA {
	return f.sheet
}

// State returns the index of the first state with the given name. State
// names are not guaranteed to be unique.
func (f *File) State(name string) (int, bool) {
	for i := range f.States {
		if f.States[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// StateNames returns all state names in declaration order.
func (f *File) StateNames() []string {
	names := make([]string, len(f.States))
	for i := range f.States {
		names[i] = f.States[i].Name
	}
	return names
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
