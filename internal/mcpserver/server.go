// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Mindloom tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/varden/mindloom/internal/apperr"
	"github.com/varden/mindloom/internal/index"
	"github.com/varden/mindloom/internal/mapservice"
	"github.com/varden/mindloom/internal/storage"
)

// Server wraps the MCP server with Mindloom tools.
type Server struct {
	mcp   *server.MCPServer
	store storage.Provider
	svc   *mapservice.Service
}

// New creates a new MCP server with all Mindloom tools registered.
func New(store storage.Provider, db *index.DB) *Server {
	s := &Server{store: store, svc: mapservice.NewService(store, db)}

	s.mcp = server.NewMCPServer(
		"Mindloom",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_maps",
		mcp.WithDescription("Full-text search through map titles and node text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchMaps)

	s.mcp.AddTool(mcp.NewTool("read_map",
		mcp.WithDescription("Read the full Markdown content of a mind map."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the map (e.g. projects/roadmap.md)")),
	), s.readMap)

	s.mcp.AddTool(mcp.NewTool("create_map",
		mcp.WithDescription("Create a new mind map at the specified path. "+
			"Content MUST follow the canonical map format (headings and list items "+
			"form the structure; free text becomes node notes). Read the contract "+
			"first via the get_map_contract tool or the mindloom://map-format resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new map (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the Mindloom map format contract")),
	), s.createMap)

	s.mcp.AddTool(mcp.NewTool("get_map_contract",
		mcp.WithDescription("Returns the canonical Mindloom map format contract. "+
			"Call this before creating or updating maps to ensure correct structure."),
	), s.getMapContract)

	s.mcp.AddTool(mcp.NewTool("list_maps",
		mcp.WithDescription("List all maps or maps in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listMaps)

	s.mcp.AddTool(mcp.NewTool("get_map_outline",
		mcp.WithDescription("Get the flattened node structure of a map: one entry "+
			"per node in document order with text, type, and nesting depth."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the map to outline")),
	), s.getMapOutline)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Download an image from a URL (or decode a data: URI) "+
			"and store it in the shared assets directory for embedding in map notes."),
		mcp.WithString("url", mcp.Required(), mcp.Description("HTTP(S) URL or base64 data: URI of the asset")),
		mcp.WithString("filename", mcp.Description("Optional filename override")),
	), s.uploadAsset)

	// Resource: map format contract.
	s.mcp.AddResource(
		mcp.NewResource("mindloom://map-format", "Map Format Contract",
			mcp.WithResourceDescription("Canonical Markdown map format that all maps must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMapFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchMaps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readMap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createMap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := s.svc.CreateMap(ctx, path, []byte(content)); err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			return mcp.NewToolResultError(fmt.Sprintf("map already exists: %s", path)), nil
		case errors.Is(err, apperr.ErrNoStructure):
			return mcp.NewToolResultError("content has no headings or list items; see the map format contract"), nil
		default:
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) listMaps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}

	infos, err := s.store.List(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var paths []string
	for _, m := range infos {
		paths = append(paths, m.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getMapOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.Outline(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString(strings.Repeat("  ", it.Level))
		b.WriteString(it.Text)
		b.WriteString(" (")
		b.WriteString(it.Type)
		b.WriteString(")\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getMapContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MapFormatContract), nil
}

func (s *Server) readMapFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mindloom://map-format",
			MIMEType: "text/markdown",
			Text:     MapFormatContract,
		},
	}, nil
}
