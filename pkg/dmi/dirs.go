package dmi

import (
	"fmt"
	"strings"
)

// Direction is a facing variant of an icon state. Values follow the order
// directions are stored in within a state.
type Direction uint8

// Direction constants.
const (
	South Direction = iota
	North
	East
	West
	SouthEast
	SouthWest
	NorthEast
	NorthWest
)

var directionNames = [...]string{
	South:     "south",
	North:     "north",
	East:      "east",
	West:      "west",
	SouthEast: "southeast",
	SouthWest: "southwest",
	NorthEast: "northeast",
	NorthWest: "northwest",
}

// String returns the lowercase direction name.
func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Directions returns the directions a state with the given dirs count
// provides, in storage order.
func Directions(dirs int) []Direction {
	out := make([]Direction, 0, dirs)
	for i := 0; i < dirs && i < len(directionNames); i++ {
		out = append(out, Direction(i))
	}
	return out
}

// ParseDirection accepts a direction name ("south", "northeast"), its short
// form ("s", "ne") or the storage index ("0".."7").
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	short := map[string]Direction{
		"s": South, "n": North, "e": East, "w": West,
		"se": SouthEast, "sw": SouthWest, "ne": NorthEast, "nw": NorthWest,
	}
	if d, ok := short[s]; ok {
		return d, nil
	}
	for i, name := range directionNames {
		if s == name || s == fmt.Sprint(i) {
			return Direction(i), nil
		}
	}
	return South, fmt.Errorf("unknown direction %q", s)
}
