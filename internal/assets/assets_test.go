package assets

import (
	"strings"
	"testing"
)

// Minimal valid headers for content sniffing.
var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n0000000000")
	gifBytes = []byte("GIF89a0000000000")
)

func TestExtAllowed(t *testing.T) {
	cases := []struct {
		ext  string
		want bool
	}{
		{".png", true},
		{".jpg", true},
		{".jpeg", true},
		{".JPG", true},
		{".webp", true},
		{".svg", true},
		{".pdf", false},
		{".exe", false},
		{".md", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ExtAllowed(c.ext); got != c.want {
			t.Errorf("ExtAllowed(%q) = %v, want %v", c.ext, got, c.want)
		}
	}
}

func TestExtForMIME(t *testing.T) {
	if got := ExtForMIME("image/png"); got != ".png" {
		t.Errorf("image/png = %q", got)
	}
	if got := ExtForMIME("image/jpeg; charset=binary"); got != ".jpg" {
		t.Errorf("parameterized mime = %q", got)
	}
	if got := ExtForMIME("application/pdf"); got != "" {
		t.Errorf("pdf must not resolve, got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("../../etc/passwd"); strings.Contains(got, "/") || strings.Contains(got, "..") {
		t.Errorf("traversal survived: %q", got)
	}
	if got := Sanitize("my diagram (v2).png"); got != "my_diagram__v2_.png" {
		t.Errorf("sanitized = %q", got)
	}
	// Nothing usable left: a random name is minted.
	if got := Sanitize("."); got == "." || got == "" {
		t.Errorf("empty name not replaced: %q", got)
	}
}

func TestValidateContent(t *testing.T) {
	if err := ValidateContent(pngBytes, ".png"); err != nil {
		t.Errorf("png: %v", err)
	}
	if err := ValidateContent(gifBytes, ".gif"); err != nil {
		t.Errorf("gif: %v", err)
	}
	if err := ValidateContent(gifBytes, ".png"); err == nil {
		t.Error("gif bytes behind .png must fail")
	}
	if err := ValidateContent([]byte(`<?xml?><svg xmlns="x"></svg>`), ".svg"); err != nil {
		t.Errorf("svg: %v", err)
	}
	if err := ValidateContent([]byte("plain text"), ".svg"); err == nil {
		t.Error("non-svg text behind .svg must fail")
	}
	if err := ValidateContent(pngBytes, ".pdf"); err == nil {
		t.Error("pdf is not an image extension")
	}
}

func TestMarkdownImage(t *testing.T) {
	if got := MarkdownImage("diagram.png"); got != "![diagram.png](/assets/diagram.png)" {
		t.Errorf("snippet = %q", got)
	}
}
