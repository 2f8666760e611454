package logger

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Faultbox/dmiscope/internal/safepath"
)

// PruneDir keeps the newest keep log files in dir and deletes the rest.
// Only files named after FileName are considered. The directory goes
// through the same safety gate as a cache purge; nothing is deleted when it
// fails. It returns the removed paths.
func PruneDir(dir string, keep int, protected []string) ([]string, error) {
	if err := safepath.Validate(dir, protected); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(FileName, filepath.Ext(FileName))
	type logFile struct {
		path string
		mod  int64
	}
	var files []logFile
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) || !strings.Contains(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(files) <= keep {
		return nil, nil
	}

	// Newest first.
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })

	var removed []string
	for _, f := range files[max(keep, 0):] {
		if err := os.Remove(f.path); err != nil {
			return removed, err
		}
		removed = append(removed, f.path)
	}
	return removed, nil
}
