package api

import (
	"github.com/varden/mindloom/internal/mapservice"
	"github.com/varden/mindloom/internal/mindmap"
)

// CreateMapRequest is the request body for creating a map.
type CreateMapRequest struct {
	Path    string `json:"path" example:"maps/roadmap.md" validate:"required"`
	Content string `json:"content" example:"# Roadmap\n- First step" validate:"required"`
}

// UpdateMapRequest is the request body for updating a map.
type UpdateMapRequest struct {
	Content string `json:"content" example:"# Roadmap\n- Updated step" validate:"required"`
}

// MapDetail is the full map response type (aliased from the domain layer).
type MapDetail = mapservice.MapDetail

// MapListItem is a lightweight item in a list response (aliased from the domain layer).
type MapListItem = mapservice.MapListItem

// MapListResponse wraps paginated map listings.
type MapListResponse struct {
	Maps  []MapListItem `json:"maps" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"maps/roadmap.md" validate:"required"`
	Title   string `json:"title" example:"Roadmap" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// OutlineResponse wraps the flattened structure of a map.
type OutlineResponse struct {
	Items []mapservice.OutlineItem `json:"items" validate:"required"`
}

// OpenSessionRequest is the request body for opening an editing session.
type OpenSessionRequest struct {
	Path string `json:"path" example:"maps/roadmap.md" validate:"required"`
}

// SessionStateResponse is returned for an open session.
type SessionStateResponse struct {
	Path     string          `json:"path" example:"maps/roadmap.md" validate:"required"`
	Markdown string          `json:"markdown" validate:"required"`
	Tree     []*mindmap.Node `json:"tree" validate:"required"`
}

// EditorInputRequest carries the full editor text of a session.
type EditorInputRequest struct {
	Content string `json:"content" validate:"required"`
}

// NodeAtLineResponse resolves a markdown line to its node.
type NodeAtLineResponse struct {
	ID string `json:"id" example:"b1c2d3e4" validate:"required"`
}

// AssetUploadResponse is returned after a successful image upload. The
// markdown_image field is the embed snippet ready to paste into a node
// note.
type AssetUploadResponse struct {
	Filename      string `json:"filename" example:"diagram.png" validate:"required"`
	Size          int64  `json:"size" example:"12345" validate:"required"`
	URL           string `json:"url" example:"/assets/diagram.png" validate:"required"`
	MarkdownImage string `json:"markdown_image" example:"![diagram.png](/assets/diagram.png)" validate:"required"`
}
