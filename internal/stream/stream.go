// Package stream implements the debounced markdown buffer that sits
// between editor keystrokes, the synchronization engine, and persistence.
// It holds at most one in-flight value per direction: rapid successive
// edits overwrite the pending value rather than queueing conversions.
package stream

import (
	"sync/atomic"
	"time"
)

// Origin tags who produced a markdown value.
type Origin string

const (
	// OriginEditor marks raw editor keystrokes (debounced).
	OriginEditor Origin = "editor"
	// OriginNodes marks markdown regenerated from the node tree.
	OriginNodes Origin = "nodes"
	// OriginExternal marks an initial load or out-of-band file change.
	OriginExternal Origin = "external"
)

// Callback receives every emitted markdown value with its origin.
type Callback func(text string, origin Origin)

type setReq struct {
	text   string
	origin Origin
}

type subReq struct {
	cb    Callback
	reply chan int
}

// Buffer is a debounced single-value markdown transport.
//
// Concurrency model: a single internal loop goroutine owns all mutable
// state (current text, subscribers, pending debounce). Public methods
// communicate with the loop through channels; callbacks run on the loop
// goroutine and must not block.
type Buffer struct {
	debounce time.Duration

	setCh     chan setReq
	subCh     chan subReq
	unsubCh   chan int
	flushCh   chan chan struct{}
	getCh     chan chan string
	stopCh    chan struct{}
	stopped   chan struct{}
	closed    atomic.Bool
}

// New creates a buffer with the given editor debounce interval.
func New(debounce time.Duration) *Buffer {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	b := &Buffer{
		debounce: debounce,
		setCh:    make(chan setReq, 64),
		subCh:    make(chan subReq),
		unsubCh:  make(chan int),
		flushCh:  make(chan chan struct{}),
		getCh:    make(chan chan string),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer close(b.stopped)

	var (
		current    string
		subs       = make(map[int]Callback)
		nextSubID  int
		pending    string
		hasPending bool
		timer      *time.Timer
		timerCh    <-chan time.Time
	)

	emit := func(text string, origin Origin) {
		current = text
		for _, cb := range subs {
			cb(text, origin)
		}
	}

	armDebounce := func() {
		if timer == nil {
			timer = time.NewTimer(b.debounce)
			timerCh = timer.C
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.debounce)
		}
	}

	flushPending := func() {
		if !hasPending {
			return
		}
		hasPending = false
		if timer != nil {
			timer.Stop()
		}
		emit(pending, OriginEditor)
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case req := <-b.setCh:
			switch req.origin {
			case OriginEditor:
				pending = req.text
				hasPending = true
				armDebounce()
			default:
				// Nodes/external values supersede any pending keystrokes.
				hasPending = false
				if timer != nil {
					timer.Stop()
				}
				emit(req.text, req.origin)
			}

		case <-timerCh:
			flushPending()

		case done := <-b.flushCh:
			flushPending()
			close(done)

		case req := <-b.subCh:
			nextSubID++
			subs[nextSubID] = req.cb
			req.reply <- nextSubID

		case id := <-b.unsubCh:
			delete(subs, id)

		case resp := <-b.getCh:
			if hasPending {
				resp <- pending
			} else {
				resp <- current
			}
		}
	}
}

// SetFromEditor buffers editor text; it is emitted after the debounce
// interval elapses with no further keystrokes.
func (b *Buffer) SetFromEditor(text string) { b.set(text, OriginEditor) }

// SetFromNodes emits tree-regenerated markdown immediately.
func (b *Buffer) SetFromNodes(text string) { b.set(text, OriginNodes) }

// SetExternal emits externally loaded markdown immediately.
func (b *Buffer) SetExternal(text string) { b.set(text, OriginExternal) }

func (b *Buffer) set(text string, origin Origin) {
	if b.closed.Load() {
		return
	}
	select {
	case b.setCh <- setReq{text: text, origin: origin}:
	case <-b.stopped:
	}
}

// Subscribe registers cb for every emitted value and returns an
// unsubscribe function.
func (b *Buffer) Subscribe(cb Callback) func() {
	if b.closed.Load() {
		return func() {}
	}
	req := subReq{cb: cb, reply: make(chan int, 1)}
	select {
	case b.subCh <- req:
	case <-b.stopped:
		return func() {}
	}
	id := <-req.reply
	return func() {
		select {
		case b.unsubCh <- id:
		case <-b.stopped:
		}
	}
}

// Flush forces any pending editor text out immediately and blocks until
// subscribers have been notified.
func (b *Buffer) Flush() {
	if b.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case b.flushCh <- done:
	case <-b.stopped:
		return
	}
	select {
	case <-done:
	case <-b.stopped:
	}
}

// Markdown returns the most recent text, preferring pending editor input
// over the last emitted value.
func (b *Buffer) Markdown() string {
	if b.closed.Load() {
		return ""
	}
	resp := make(chan string, 1)
	select {
	case b.getCh <- resp:
	case <-b.stopped:
		return ""
	}
	select {
	case text := <-resp:
		return text
	case <-b.stopped:
		return ""
	}
}

// Close stops the loop. Pending editor text is discarded; callers that
// care should Flush first.
func (b *Buffer) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}
