package index

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/Faultbox/dmiscope/pkg/encoding"
)

// Match is one search result. A match on the file name has an empty State
// and StateIndex -1.
type Match struct {
	Path       string
	State      string
	StateIndex int
	Exact      bool

	// Thumbnail references the preview of the matched state, or of the
	// file's first state for file name matches. Nil when the file declares
	// no states.
	Thumbnail *ThumbnailRef
}

// Search matches query case-insensitively against file basenames and state
// names. Queries containing glob metacharacters (*, ?, [) are matched as
// patterns, anything else as a substring. Exact name matches rank first,
// then results are ordered by path and by position within the file.
func (ix *Index) Search(query string) []Match {
	q := encoding.FoldKey(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	m := newMatcher(q)

	var out []Match
	for _, e := range ix.Entries() {
		if exact, ok := m.match(e.base, e.name); ok {
			out = append(out, e.match(-1, exact))
		}
		for i, key := range e.keys {
			if exact, ok := m.match(key); ok {
				out = append(out, e.match(i, exact))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Exact != b.Exact {
			return a.Exact
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.StateIndex < b.StateIndex
	})
	return out
}

func (e *Entry) match(state int, exact bool) Match {
	m := Match{Path: e.Path, StateIndex: state, Exact: exact}
	thumb := state
	if state >= 0 {
		m.State = e.File.States[state].Name
	} else {
		thumb = 0
	}
	if thumb < len(e.File.States) {
		m.Thumbnail = &ThumbnailRef{Fingerprint: e.Fingerprint(), State: thumb}
	}
	return m
}

type matcher struct {
	query string
	glob  bool
}

func newMatcher(q string) matcher {
	m := matcher{query: q, glob: strings.ContainsAny(q, "*?[")}
	if m.glob {
		if _, err := filepath.Match(q, ""); err != nil {
			// Malformed pattern, fall back to a literal substring.
			m.glob = false
		}
	}
	return m
}

// match reports whether any of the folded names matches, and whether one
// of them equals the query.
func (m matcher) match(names ...string) (exact, ok bool) {
	for _, name := range names {
		if name == m.query {
			return true, true
		}
	}
	for _, name := range names {
		if m.glob {
			if matched, _ := filepath.Match(m.query, name); matched {
				return false, true
			}
		} else if strings.Contains(name, m.query) {
			return false, true
		}
	}
	return false, false
}
