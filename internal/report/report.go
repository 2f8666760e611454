// Package report defines the structured records the core emits for
// per-file failures and refused operations. Formatting and writing them is
// left to the Reporter the caller supplies.
package report

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/Faultbox/dmiscope/internal/safepath"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

// Kind classifies a failure.
type Kind string

// Failure kinds.
const (
	KindFormat   Kind = "format"
	KindMetadata Kind = "metadata"
	KindGeometry Kind = "geometry"
	KindIO       Kind = "io"
	KindConfig   Kind = "config"
	KindOther    Kind = "other"
)

// Record is one reported failure.
type Record struct {
	Path    string // file or directory the failure is about
	Key     string // cache key, when the failure concerns an artifact
	Kind    Kind
	Message string
	Err     error
}

// Reporter receives records. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(Record)
}

// Func adapts a function to the Reporter interface.
type Func func(Record)

// Report calls f(r).
func (f Func) Report(r Record) { f(r) }

// Discard drops every record.
var Discard Reporter = Func(func(Record) {})

// KindOf classifies err.
func KindOf(err error) Kind {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dmi.ErrFormat):
		return KindFormat
	case errors.Is(err, dmi.ErrMetadata):
		return KindMetadata
	case errors.Is(err, dmi.ErrGeometry):
		return KindGeometry
	case errors.Is(err, safepath.ErrUnsafePath):
		return KindConfig
	case errors.As(err, &pathErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return KindIO
	default:
		return KindOther
	}
}

// New builds a record for err about path.
func New(path string, err error) Record {
	return Record{Path: path, Kind: KindOf(err), Message: err.Error(), Err: err}
}

// Collector keeps every record it receives.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// Report stores r.
func (c *Collector) Report(r Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Records returns a copy of the stored records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

// Count returns the number of stored records of the given kind, or of all
// kinds when kind is empty.
func (c *Collector) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == "" {
		return len(c.records)
	}
	n := 0
	for _, r := range c.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Tee forwards every record to all reporters.
func Tee(reporters ...Reporter) Reporter {
	return Func(func(r Record) {
		for _, rep := range reporters {
			rep.Report(r)
		}
	})
}
