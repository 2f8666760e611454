package dmi

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata markers and defaults.
const (
	beginMarker = "# BEGIN DMI"
	endMarker   = "# END DMI"

	DefaultCellSize = 32
	DefaultDelay    = 1.0 // ticks

	// MaxStateCells bounds dirs*frames of a single state. No sheet a PNG
	// decoder will load holds more cells than this.
	MaxStateCells = 1 << 24
)

// Hotspot is an offset attached to one image of a state. Image is the
// 1-based position of the image within the state (frame*dirs + dir + 1).
type Hotspot struct {
	X, Y  int
	Image int
}

// State is an icon state declared in the metadata.
type State struct {
	Name     string
	Dirs     int
	Frames   int
	Delays   []float64 // ticks, always len(Delays) == Frames
	Loop     int       // 0 = repeat forever
	Rewind   bool
	Movement bool
	Hotspots []Hotspot

	// Offset is the linear cell index of the state's first image. It is set
	// when the metadata is laid over a sheet.
	Offset int
}

// Cells returns the number of sheet cells the state occupies.
func (s *State) Cells() int {
	return s.Dirs * s.Frames
}

// Cell returns the linear cell index of frame f of direction d. Directions
// vary fastest inside a state.
func (s *State) Cell(d Direction, f int) int {
	return s.Offset + f*s.Dirs + int(d)
}

// Hotspot returns the hotspot declared for frame f of direction d, if any.
func (s *State) Hotspot(d Direction, f int) (Hotspot, bool) {
	image := f*s.Dirs + int(d) + 1
	for _, h := range s.Hotspots {
		if h.Image == image {
			return h, true
		}
	}
	return Hotspot{}, false
}

// Metadata is the parsed text chunk of a DMI file.
type Metadata struct {
	Version    string
	CellWidth  int
	CellHeight int
	States     []State

	// Warnings lists non-fatal problems that were repaired while parsing.
	Warnings []string
}

// ParseMetadata parses the DMI metadata grammar. Unknown keys are ignored;
// numeric values are validated.
func ParseMetadata(text string) (*Metadata, error) {
	m := &Metadata{
		CellWidth:  DefaultCellSize,
		CellHeight: DefaultCellSize,
	}

	var cur *State
	begun := false
	explicitDelay := map[int]bool{}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for n, raw := range lines {
		lineNo := n + 1
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			switch line {
			case beginMarker:
				begun = true
			case endMarker:
				if !begun {
					return nil, metadataf("line %d: %q before %q", lineNo, endMarker, beginMarker)
				}
				return m.finish(explicitDelay)
			}
			continue
		}
		if !begun {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, metadataf("line %d: expected key = value, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "state" {
			if m.Version == "" {
				return nil, metadataf("line %d: state declared before version header", lineNo)
			}
			m.States = append(m.States, State{
				Name:   unquote(value),
				Dirs:   1,
				Frames: 1,
			})
			cur = &m.States[len(m.States)-1]
			continue
		}

		if cur == nil {
			switch key {
			case "version":
				m.Version = value
			case "width":
				v, err := parsePositive(value)
				if err != nil {
					return nil, metadataf("line %d: width: %v", lineNo, err)
				}
				m.CellWidth = v
			case "height":
				v, err := parsePositive(value)
				if err != nil {
					return nil, metadataf("line %d: height: %v", lineNo, err)
				}
				m.CellHeight = v
			}
			continue
		}

		switch key {
		case "dirs":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, metadataf("line %d: dirs: %v", lineNo, err)
			}
			cur.Dirs = v
		case "frames":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, metadataf("line %d: frames: %v", lineNo, err)
			}
			cur.Frames = v
		case "delay":
			delays, err := parseFloats(value)
			if err != nil {
				return nil, metadataf("line %d: delay: %v", lineNo, err)
			}
			cur.Delays = delays
			explicitDelay[len(m.States)-1] = true
		case "loop":
			v, err := strconv.Atoi(value)
			if err != nil || v < 0 {
				return nil, metadataf("line %d: loop: invalid value %q", lineNo, value)
			}
			cur.Loop = v
		case "rewind":
			v, err := parseBool(value)
			if err != nil {
				return nil, metadataf("line %d: rewind: %v", lineNo, err)
			}
			cur.Rewind = v
		case "movement":
			v, err := parseBool(value)
			if err != nil {
				return nil, metadataf("line %d: movement: %v", lineNo, err)
			}
			cur.Movement = v
		case "hotspot":
			h, err := parseHotspot(value)
			if err != nil {
				return nil, metadataf("line %d: hotspot: %v", lineNo, err)
			}
			cur.Hotspots = append(cur.Hotspots, h)
		}
	}

	if !begun {
		return nil, metadataf("missing %q marker", beginMarker)
	}
	// A missing end marker is tolerated.
	return m.finish(explicitDelay)
}

// finish validates the parsed states and fills in defaults.
func (m *Metadata) finish(explicitDelay map[int]bool) (*Metadata, error) {
	if m.Version == "" {
		return nil, metadataf("missing version header")
	}
	for i := range m.States {
		s := &m.States[i]
		switch s.Dirs {
		case 1, 4, 8:
		default:
			return nil, metadataf("state %q: dirs = %d, want 1, 4 or 8", s.Name, s.Dirs)
		}
		if s.Frames < 1 {
			return nil, metadataf("state %q: frames = %d, want at least 1", s.Name, s.Frames)
		}
		if s.Frames > MaxStateCells/s.Dirs {
			return nil, geometryf("state %q: %d dirs of %d frames exceed %d cells", s.Name, s.Dirs, s.Frames, MaxStateCells)
		}
		if explicitDelay[i] && len(s.Delays) != s.Frames {
			m.Warnings = append(m.Warnings, fmt.Sprintf(
				"state %q: %d delays for %d frames, using default delay", s.Name, len(s.Delays), s.Frames))
			s.Delays = nil
		}
		if s.Delays == nil {
			s.Delays = make([]float64, s.Frames)
			for f := range s.Delays {
				s.Delays[f] = DefaultDelay
			}
		}
		for _, h := range s.Hotspots {
			if h.Image < 1 || h.Image > s.Cells() {
				return nil, metadataf("state %q: hotspot image %d out of range 1..%d", s.Name, h.Image, s.Cells())
			}
		}
	}
	return m, nil
}

// String encodes the metadata back into the DMI grammar.
func (m *Metadata) String() string {
	var b strings.Builder
	b.WriteString(beginMarker + "\n")
	fmt.Fprintf(&b, "version = %s\n", m.Version)
	fmt.Fprintf(&b, "\twidth = %d\n", m.CellWidth)
	fmt.Fprintf(&b, "\theight = %d\n", m.CellHeight)
	for i := range m.States {
		s := &m.States[i]
		fmt.Fprintf(&b, "state = %s\n", quote(s.Name))
		fmt.Fprintf(&b, "\tdirs = %d\n", s.Dirs)
		fmt.Fprintf(&b, "\tframes = %d\n", s.Frames)
		if s.Frames > 1 || !defaultDelays(s.Delays) {
			parts := make([]string, len(s.Delays))
			for f, d := range s.Delays {
				parts[f] = strconv.FormatFloat(d, 'f', -1, 64)
			}
			fmt.Fprintf(&b, "\tdelay = %s\n", strings.Join(parts, ","))
		}
		if s.Loop > 0 {
			fmt.Fprintf(&b, "\tloop = %d\n", s.Loop)
		}
		if s.Rewind {
			b.WriteString("\trewind = 1\n")
		}
		if s.Movement {
			b.WriteString("\tmovement = 1\n")
		}
		for _, h := range s.Hotspots {
			fmt.Fprintf(&b, "\thotspot = %d,%d,%d\n", h.X, h.Y, h.Image)
		}
	}
	b.WriteString(endMarker + "\n")
	return b.String()
}

func defaultDelays(delays []float64) bool {
	for _, d := range delays {
		if d != DefaultDelay {
			return false
		}
	}
	return true
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) && (v[i+1] == '"' || v[i+1] == '\\') {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func parsePositive(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func parseFloats(v string) ([]float64, error) {
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return nil, fmt.Errorf("negative delay %v", f)
		}
		out = append(out, f)
	}
	return out, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func parseHotspot(v string) (Hotspot, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return Hotspot{}, fmt.Errorf("want x,y,image, got %q", v)
	}
	var n [3]int
	for i, p := range parts {
		x, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Hotspot{}, err
		}
		n[i] = x
	}
	return Hotspot{X: n[0], Y: n[1], Image: n[2]}, nil
}
