// Package storage defines the map-file persistence abstraction.
package storage

import "time"

// MapInfo is lightweight metadata for one map file on disk.
type MapInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for map file operations. All paths are
// relative to the workspace root. Errors propagate unchanged to callers;
// the sync engine never masks them, it only keeps its own state
// consistent regardless of the outcome.
type Provider interface {
	// List returns metadata for every .md map under dir.
	List(dir string) ([]MapInfo, error)
	// Read returns the markdown text of the map at path.
	Read(path string) ([]byte, error)
	// Write atomically persists markdown to path.
	Write(path string, content []byte) error
	// Delete removes the map at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// LastModified returns the map's mtime, or the zero time with an
	// error when the file does not exist.
	LastModified(path string) (time.Time, error)
}
