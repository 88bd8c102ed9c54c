// Package assets defines the image policy for map embeds. Maps reference
// their assets as markdown images under the workspace assets/ directory,
// so both the HTTP upload endpoint and the MCP upload tool accept the
// same set of image formats and produce the same embed snippet.
package assets

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Dir is the workspace subdirectory that holds map images.
const Dir = "assets"

// format is one embeddable image format. aliases list alternate
// extensions that resolve to the same content type.
type format struct {
	ext     string
	mime    string
	aliases []string
}

// Maps embed images only; documents and archives are not map content.
var formats = []format{
	{ext: ".png", mime: "image/png"},
	{ext: ".jpg", mime: "image/jpeg", aliases: []string{".jpeg"}},
	{ext: ".gif", mime: "image/gif"},
	{ext: ".webp", mime: "image/webp"},
	{ext: ".svg", mime: "image/svg+xml"},
}

var safeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func lookup(ext string) *format {
	for i := range formats {
		if formats[i].ext == ext {
			return &formats[i]
		}
		for _, a := range formats[i].aliases {
			if a == ext {
				return &formats[i]
			}
		}
	}
	return nil
}

// ExtAllowed reports whether ext (with leading dot, any case) is an
// embeddable image extension.
func ExtAllowed(ext string) bool {
	return lookup(strings.ToLower(ext)) != nil
}

// ExtForMIME returns the canonical extension for a MIME type, or "" when
// the type is not an embeddable image.
func ExtForMIME(mime string) string {
	mime = strings.TrimSpace(strings.Split(mime, ";")[0])
	for i := range formats {
		if formats[i].mime == mime {
			return formats[i].ext
		}
	}
	return ""
}

// AllowedList renders the accepted extensions for error messages.
func AllowedList() string {
	parts := make([]string, 0, len(formats)+1)
	for _, f := range formats {
		parts = append(parts, strings.TrimPrefix(f.ext, "."))
		for _, a := range f.aliases {
			parts = append(parts, strings.TrimPrefix(a, "."))
		}
	}
	return strings.Join(parts, ", ")
}

// Sanitize strips path components and unsafe characters from a filename,
// minting a random name when nothing usable remains.
func Sanitize(name string) string {
	name = filepath.Base(name)
	name = safeNameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." {
		name = uuid.New().String()
	}
	return name
}

// MarkdownImage returns the embed snippet a map node uses to reference an
// uploaded image.
func MarkdownImage(filename string) string {
	return fmt.Sprintf("![%s](/%s/%s)", filename, Dir, filename)
}

// URLPath returns the serving path for an uploaded image.
func URLPath(filename string) string {
	return "/" + Dir + "/" + filename
}

// ValidateContent verifies the bytes look like the image the extension
// claims. SVG is text, so it is matched on the root tag; raster formats
// go through content sniffing.
func ValidateContent(data []byte, ext string) error {
	ext = strings.ToLower(ext)
	f := lookup(ext)
	if f == nil {
		return fmt.Errorf("unsupported image extension %s (allowed: %s)", ext, AllowedList())
	}
	if f.ext == ".svg" {
		prefix := data
		if len(prefix) > 1024 {
			prefix = prefix[:1024]
		}
		if !bytes.Contains(prefix, []byte("<svg")) {
			return fmt.Errorf("content is not an SVG image (missing <svg tag)")
		}
		return nil
	}
	detected := strings.Split(http.DetectContentType(data), ";")[0]
	if detected != f.mime {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, detected)
	}
	return nil
}
