package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pgconvert/internal/pipeerrors"
)

// SourceArtifact describes a located source backup file. Immutable once
// returned by FindLatest.
type SourceArtifact struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Prefix  string    `json:"prefix"`
}

// FindLatest returns the entry under dir whose name starts with prefix and
// whose modification time is maximal. Equal modification times resolve to
// the lexicographically largest name so repeated runs pick the same file.
func FindLatest(dir, prefix string) (*SourceArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pipeerrors.NewSourceNotFoundError(
			fmt.Sprintf("cannot read source directory %s", dir), err)
	}

	var (
		bestName string
		bestTime time.Time
		found    bool
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, pipeerrors.NewSourceNotFoundError(
				fmt.Sprintf("cannot stat candidate %s", entry.Name()), err)
		}
		mt := info.ModTime()
		switch {
		case !found, mt.After(bestTime):
			bestName, bestTime, found = entry.Name(), mt, true
		case mt.Equal(bestTime) && entry.Name() > bestName:
			bestName = entry.Name()
		}
	}

	if !found {
		return nil, pipeerrors.NewSourceNotFoundError(
			fmt.Sprintf("no source artifact matching prefix %q in %s", prefix, dir), nil)
	}

	path := filepath.Join(dir, bestName)
	f, err := os.Open(path)
	if err != nil {
		return nil, pipeerrors.NewSourceNotFoundError(
			fmt.Sprintf("source artifact %s is not readable", path), err)
	}
	f.Close()

	return &SourceArtifact{
		Path:    path,
		ModTime: bestTime,
		Prefix:  prefix,
	}, nil
}
