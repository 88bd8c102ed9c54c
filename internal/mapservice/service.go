// Package mapservice coordinates storage and index operations for map
// CRUD, search, and outline extraction.
package mapservice

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/varden/mindloom/internal/apperr"
	"github.com/varden/mindloom/internal/checksum"
	"github.com/varden/mindloom/internal/index"
	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/mindmap"
	"github.com/varden/mindloom/internal/storage"
	"github.com/varden/mindloom/internal/structdiff"
)

// MapDetail is the full representation of a map.
type MapDetail struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Checksum  string    `json:"checksum"`
	NodeCount int       `json:"node_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MapListItem is a lightweight item in a list response.
type MapListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	NodeCount int       `json:"node_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OutlineItem is one pre-order entry of a map's structure.
type OutlineItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Note   string `json:"note,omitempty"`
	Type   string `json:"type"`
	Level  int    `json:"level"` // tree depth in the pre-order walk
	Indent int    `json:"indent,omitempty"`
}

// Service coordinates storage and index operations.
type Service struct {
	store storage.Provider
	db    *index.DB
}

// NewService creates a new map service.
func NewService(store storage.Provider, db *index.DB) *Service {
	return &Service{store: store, db: db}
}

// GetMap reads a map from storage and parses it for metadata.
func (s *Service) GetMap(_ context.Context, path string) (*MapDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildMapDetail(path, data)
}

// CreateMap writes a new map and indexes it.
func (s *Service) CreateMap(_ context.Context, path string, content []byte) (*MapDetail, error) {
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	// Refuse to create unparseable maps before anything is written.
	if _, err := markdown.Parse(string(content), markdown.Options{}); err != nil {
		return nil, err
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexData(path, content); err != nil {
		return nil, err
	}
	return s.buildMapDetail(path, content)
}

// UpdateMap writes updated content with optimistic concurrency.
func (s *Service) UpdateMap(_ context.Context, path string, content []byte, ifMatch string) (*MapDetail, error) {
	existing, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexData(path, content); err != nil {
		return nil, err
	}
	return s.buildMapDetail(path, content)
}

// DeleteMap removes a map from storage and index.
func (s *Service) DeleteMap(_ context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.db.DeleteMap(path)
}

// ListMaps returns paginated maps.
func (s *Service) ListMaps(_ context.Context, limit, offset int, sort string) ([]MapListItem, int, error) {
	rows, total, err := s.db.ListMaps(limit, offset, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]MapListItem, len(rows))
	for i, r := range rows {
		items[i] = MapListItem{
			Path:      r.Path,
			Title:     r.Title,
			Checksum:  r.Checksum,
			NodeCount: r.NodeCount,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Outline parses a map and returns its pre-order structure projection.
func (s *Service) Outline(_ context.Context, path string) ([]OutlineItem, error) {
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	roots, err := markdown.Parse(string(data), markdown.Options{})
	if err != nil {
		return nil, err
	}
	flat := structdiff.Flatten(roots)
	items := make([]OutlineItem, len(flat))
	for i, f := range flat {
		items[i] = OutlineItem{
			ID:     f.ID,
			Text:   f.Text,
			Note:   f.Note,
			Type:   string(f.Type),
			Level:  f.Depth,
			Indent: f.Indent,
		}
	}
	return items, nil
}

// IndexData parses map markdown and upserts it into the index.
// Exported so that sync and watcher paths can reuse it.
func (s *Service) IndexData(path string, data []byte) error {
	roots, err := markdown.Parse(string(data), markdown.Options{})
	if err != nil {
		return err
	}
	title := ""
	if len(roots) > 0 {
		title = roots[0].Text
	}
	return s.db.UpsertMap(index.MapRow{
		Path:      path,
		Title:     title,
		Checksum:  checksum.Sum(data),
		NodeCount: mindmap.Count(roots),
		UpdatedAt: time.Now(),
	}, string(data))
}

// buildMapDetail constructs a MapDetail from raw data without re-reading
// the file.
func (s *Service) buildMapDetail(path string, data []byte) (*MapDetail, error) {
	roots, err := markdown.Parse(string(data), markdown.Options{})
	if err != nil {
		return nil, err
	}
	title := ""
	if len(roots) > 0 {
		title = roots[0].Text
	}
	return &MapDetail{
		Path:      path,
		Title:     title,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		NodeCount: mindmap.Count(roots),
		UpdatedAt: time.Now(),
	}, nil
}
