package storage

import (
	"os"
	"path/filepath"

	"github.com/evanmccall/absync/internal/models"
)

// Roots holds the absolute paths of the two tier roots. Download paths in the
// store are always relative to the root named by the record's storage location.
type Roots struct {
	Hot  string
	Cold string
}

// Abs resolves a tier-relative path against its tier root.
func (r Roots) Abs(loc models.StorageLocation, rel string) string {
	switch loc {
	case models.StorageCold:
		return filepath.Join(r.Cold, rel)
	default:
		return filepath.Join(r.Hot, rel)
	}
}

// Exists reports whether the file backing a tier-relative path is on disk.
func (r Roots) Exists(loc models.StorageLocation, rel string) bool {
	fi, err := os.Stat(r.Abs(loc, rel))
	return err == nil && !fi.IsDir()
}

// EnsureDirs creates both tier roots.
func (r Roots) EnsureDirs() error {
	if err := os.MkdirAll(r.Hot, 0755); err != nil {
		return err
	}
	return os.MkdirAll(r.Cold, 0755)
}

// BackupMarker flags hot-tier files for exclusion from device backups.
// Exclusion is best effort everywhere it is used: a marker failure never
// fails the download or the move that triggered it.
type BackupMarker interface {
	Exclude(path string) error
}

// SidecarMarker excludes a directory tree from backup scans by dropping a
// marker file at the tier root, the convention mobile media apps use for
// bulk media directories.
type SidecarMarker struct {
	Name string // marker filename, e.g. ".nobackup"
}

// Exclude places the marker next to the given path's tier root directory.
func (m SidecarMarker) Exclude(path string) error {
	name := m.Name
	if name == "" {
		name = ".nobackup"
	}
	marker := filepath.Join(filepath.Dir(path), name)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	return os.WriteFile(marker, nil, 0644)
}

// NoopMarker disables backup-exclusion bookkeeping.
type NoopMarker struct{}

func (NoopMarker) Exclude(string) error { return nil }
