// Package dmitest builds synthetic DMI files for tests.
package dmitest

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/dmiscope/pkg/dmi"
)

// Human declares two states on 4x4 cells: "idle" with one direction and
// two frames, and "walk" with four directions and four frames.
const Human = `# BEGIN DMI
version = 4.0
	width = 4
	height = 4
state = "idle"
	dirs = 1
	frames = 2
	delay = 1,2
state = "walk"
	dirs = 4
	frames = 4
	delay = 1,1,1,1
	movement = 1
# END DMI
`

// Door declares a single static "closed" state on 4x4 cells.
const Door = `# BEGIN DMI
version = 4.0
	width = 4
	height = 4
state = "closed"
	dirs = 1
	frames = 1
# END DMI
`

// CellColor is the fill color of cell i in sheets built by this package.
func CellColor(i int) color.NRGBA {
	return color.NRGBA{R: uint8(i * 7), G: uint8(255 - i), B: uint8(i * 3), A: 255}
}

// Sheet creates a sheet of cols x rows cells, cell i filled with CellColor(i).
func Sheet(cols, rows, cellW, cellH int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cols*cellW, rows*cellH))
	for i := 0; i < cols*rows; i++ {
		x0, y0 := (i%cols)*cellW, (i/cols)*cellH
		for y := y0; y < y0+cellH; y++ {
			for x := x0; x < x0+cellW; x++ {
				img.SetNRGBA(x, y, CellColor(i))
			}
		}
	}
	return img
}

// Build encodes a DMI file for meta on a roughly square sheet just large
// enough to hold every declared cell.
func Build(t testing.TB, meta string) []byte {
	t.Helper()

	m, err := dmi.ParseMetadata(meta)
	if err != nil {
		t.Fatalf("parsing fixture metadata: %v", err)
	}
	cells := 0
	for i := range m.States {
		cells += m.States[i].Cells()
	}
	if cells == 0 {
		cells = 1
	}
	cols := int(math.Ceil(math.Sqrt(float64(cells))))
	rows := (cells + cols - 1) / cols

	var buf bytes.Buffer
	if err := dmi.Encode(&buf, Sheet(cols, rows, m.CellWidth, m.CellHeight), m); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

// WriteFile builds a DMI file for meta at path, creating parent
// directories, and returns the absolute path.
func WriteFile(t testing.TB, path, meta string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating fixture dir: %v", err)
	}
	if err := os.WriteFile(path, Build(t, meta), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("resolving fixture path: %v", err)
	}
	return abs
}

// Tree writes the icons/human.dmi and icons/sub/door.dmi fixtures below
// root and returns the icons directory.
func Tree(t testing.TB, root string) string {
	t.Helper()

	icons := filepath.Join(root, "icons")
	WriteFile(t, filepath.Join(icons, "human.dmi"), Human)
	WriteFile(t, filepath.Join(icons, "sub", "door.dmi"), Door)
	return icons
}
