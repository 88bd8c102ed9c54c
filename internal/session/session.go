// Package session owns the lifetime of one open map document: it wires
// the storage provider, the debounced markdown stream, and the
// synchronization controller together, and exposes the editor-facing
// surface (input, cursor-to-node lookup, flush). All engine state —
// baseline, suppression deadline, memo cache — lives and dies with the
// session and is never carried over to another document.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/varden/mindloom/internal/markdown"
	"github.com/varden/mindloom/internal/memo"
	"github.com/varden/mindloom/internal/mindmap"
	"github.com/varden/mindloom/internal/storage"
	"github.com/varden/mindloom/internal/stream"
	"github.com/varden/mindloom/internal/syncengine"
)

// Notifier receives tree-change notifications for connected UI clients.
// *sse.Broker satisfies it.
type Notifier interface {
	PublishTreeEvent(kind, path string)
}

// Options tunes session behavior. Zero values fall back to defaults.
type Options struct {
	CollapseDepth  int
	EditorDebounce time.Duration
	SuppressWindow time.Duration
	Logger         *slog.Logger
	Notifier       Notifier
}

// Session is one open document. One instance per open map, never shared
// across documents.
type Session struct {
	path   string
	store  storage.Provider
	buf    *stream.Buffer
	ctrl   *syncengine.Controller
	logger *slog.Logger
	unsub  func()

	mu        sync.Mutex
	saveErr   error
	lastSaved string
}

// Open reads the map at path, parses it into a tree, and starts the
// synchronization loop. Free-text files with no structure fail with
// apperr.ErrNoStructure.
func Open(store storage.Provider, path string, opts Options) (*Session, error) {
	data, err := store.Read(path)
	if err != nil {
		return nil, err
	}
	text := string(data)

	roots, err := markdown.Parse(text, markdown.Options{CollapseDepth: opts.CollapseDepth})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		path:   path,
		store:  store,
		buf:    stream.New(opts.EditorDebounce),
		logger: logger,
	}

	ctrlOpts := []syncengine.Option{
		syncengine.WithCollapseDepth(opts.CollapseDepth),
		syncengine.WithLogger(logger),
	}
	if opts.SuppressWindow > 0 {
		ctrlOpts = append(ctrlOpts, syncengine.WithSuppressWindow(opts.SuppressWindow))
	}
	if n := opts.Notifier; n != nil {
		ctrlOpts = append(ctrlOpts,
			syncengine.WithLayoutFunc(func() { n.PublishTreeEvent("replaced", path) }),
			syncengine.WithPatchedFunc(func(int) { n.PublishTreeEvent("patched", path) }),
		)
	}
	s.ctrl = syncengine.New(roots, s.buf, ctrlOpts...)
	s.ctrl.OnMarkdownReceived(text, stream.OriginExternal)

	s.unsub = s.buf.Subscribe(s.onStream)
	s.buf.SetExternal(text)

	return s, nil
}

// onStream runs on the buffer loop for every emitted value.
func (s *Session) onStream(text string, origin stream.Origin) {
	switch origin {
	case stream.OriginEditor:
		s.ctrl.OnMarkdownReceived(text, origin)
		s.persist(text)
	case stream.OriginNodes:
		s.persist(text)
	case stream.OriginExternal:
		s.ctrl.OnMarkdownReceived(text, origin)
	}
}

func (s *Session) persist(text string) {
	if err := s.store.Write(s.path, []byte(text)); err != nil {
		s.logger.Error("session: save failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		s.mu.Lock()
		s.saveErr = err
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.lastSaved = text
	s.mu.Unlock()
}

// Path returns the map path this session is bound to.
func (s *Session) Path() string { return s.path }

// OnEditorInput forwards editor keystrokes into the stream as
// editor-origin text.
func (s *Session) OnEditorInput(text string) {
	s.buf.SetFromEditor(text)
}

// NodeIDByMarkdownLine resolves a 1-based editor line to a node id, or ""
// when no structural line precedes it.
func (s *Session) NodeIDByMarkdownLine(line int) string {
	return s.ctrl.NodeIDByLine(line)
}

// CurrentMarkdown returns the latest markdown, pending editor input
// included.
func (s *Session) CurrentMarkdown() string {
	return s.buf.Markdown()
}

// Tree returns a deep copy of the current node tree.
func (s *Session) Tree() []*mindmap.Node {
	return s.ctrl.Tree()
}

// MemoStats exposes the serialization cache counters.
func (s *Session) MemoStats() memo.Stats {
	return s.ctrl.MemoStats()
}

// Mutate applies an explicit tree edit and triggers the push path.
func (s *Session) Mutate(fn func(roots []*mindmap.Node) []*mindmap.Node) {
	s.ctrl.Mutate(fn)
}

// Flush forces any buffered editor text through the engine and to disk,
// returning the persistence error, if any. Storage errors surface here
// unchanged; the engine's own state stays consistent regardless.
func (s *Session) Flush() error {
	s.buf.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.saveErr
	s.saveErr = nil
	return err
}

// ReloadFromDisk re-reads the file after an out-of-band change and
// replaces the tree wholesale. A no-op when the on-disk text matches the
// baseline or the session's own last save: editor input never moves the
// baseline, so without the second check every debounced keystroke save
// would echo back through the file watcher as an "external" change and
// rebuild the tree.
func (s *Session) ReloadFromDisk() error {
	data, err := s.store.Read(s.path)
	if err != nil {
		return err
	}
	text := string(data)
	s.mu.Lock()
	lastSaved := s.lastSaved
	s.mu.Unlock()
	if text == s.ctrl.Baseline() || text == lastSaved {
		return nil
	}

	roots, err := markdown.Parse(text, markdown.Options{})
	if err != nil {
		// Keep the in-memory tree; the file may be mid-write.
		s.logger.Warn("session: external reload rejected",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return err
	}
	s.ctrl.Replace(roots, text)
	s.buf.SetExternal(text)
	return nil
}

// Close tears the session down: pending state is discarded, not reused.
func (s *Session) Close() {
	s.unsub()
	s.buf.Close()
}
