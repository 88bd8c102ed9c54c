package index

import (
	"log/slog"
	"time"

	"github.com/varden/mindloom/internal/checksum"
	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/mindmap"
	"github.com/varden/mindloom/internal/storage"
)

// Sync walks the workspace and brings the index up to date:
//   - new/changed maps are parsed and upserted
//   - maps removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	infos, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		disk[info.Path] = struct{}{}

		if checksums[info.Path] == info.Checksum {
			continue
		}

		data, err := store.Read(info.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", info.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, info.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", info.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", info.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteMap(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexFile parses map markdown and upserts it into the DB. Files with no
// structure (no heading/list) fail to parse and stay unindexed.
func indexFile(db *DB, path string, data []byte) error {
	roots, err := markdown.Parse(string(data), markdown.Options{})
	if err != nil {
		return err
	}

	title := ""
	if len(roots) > 0 {
		title = roots[0].Text
	}

	row := MapRow{
		Path:      path,
		Title:     title,
		Checksum:  checksum.Sum(data),
		NodeCount: mindmap.Count(roots),
		UpdatedAt: time.Now(),
	}
	return db.UpsertMap(row, string(data))
}
