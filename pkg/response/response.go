// Package response holds the per-exchange response state: the header and
// body arenas, the two orthogonal state machines that track how far the
// driver has gotten through the wire bytes, and the completion signal a
// synchronous caller blocks on.
package response

import (
	"sync"
	"sync/atomic"

	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/parser"
	"github.com/embedhttp/httpc/pkg/region"
	"github.com/embedhttp/httpc/pkg/timing"
)

// ParserState tracks progress through the HTTP/1.1 grammar itself.
type ParserState int

const (
	ParserNone ParserState = iota
	ParserInHeaders
	ParserHeadersComplete
	ParserInBody
	ParserBodyComplete
)

// BufferState tracks which caller-supplied buffer the driver is currently
// filling or searching, independent of how far the grammar has progressed —
// a header line can be fully parsed while the driver is still shuffling
// bytes between the header buffer and a caller's ReadHeader search.
type BufferState int

const (
	BufferNone BufferState = iota
	BufferFillingHeader
	BufferFillingBody
	BufferSearchingHeader
	BufferFinished
)

// Context is the Go realization of the spec's response processing record:
// one per request/response exchange, reused across a persistent
// connection's successive exchanges via Reset.
type Context struct {
	Parser *parser.Parser

	ParserState ParserState
	BufferState BufferState

	Headers region.Region
	Body    region.Region // zero value means "no body buffer supplied"

	StatusCode        int
	Method            string
	ContentLength     uint64
	HaveContentLength bool
	Chunked           bool
	Timing            timing.Metrics

	// headerSearchName is set while BufferState == BufferSearchingHeader,
	// the name ReadHeader is looking for in the already-landed header bytes.
	headerSearchName string
	headerSearchHit  []byte

	// HeaderCursor is how far into Headers.Bytes() the driver has already
	// scanned with ScanStatusLine/ScanHeaderLine.
	HeaderCursor int
	// StatusParsed reports whether ScanStatusLine has already succeeded.
	StatusParsed bool
	// OnBodyChunk, if set, receives every body span as it is parsed —
	// used for async streaming when no Body region was supplied.
	OnBodyChunk func([]byte)

	// BodyCarry retains body bytes the driver has already seen but not yet
	// fed through the body parser: either the tail of a recv that landed
	// past the header block in the same read that completed the headers,
	// or the unconsumed remainder of a chunk-framing token split across a
	// recv boundary. FeedBody drains it ahead of any newly landed bytes.
	BodyCarry []byte

	// pendingBody stages body bytes for an asynchronous caller that
	// supplied neither a Body region nor OnBodyChunk, to be drained on
	// demand via ReadResponseBody.
	pendingBody []byte

	cancelled atomic.Bool

	mu           sync.Mutex
	done         chan struct{}
	doneClosed   bool
	SyncStatus   *httperr.Error
	BodyRxStatus *httperr.Error
}

// New allocates a response Context wired to hdrBuf; bodyBuf may be nil for
// async callers who want the body delivered incrementally instead of
// buffered (or for HEAD requests, which never populate a body region).
// A nil bodyBuf does not by itself suppress the body: the driver stages
// those bytes for ReadResponseBody (see DESIGN.md on the HEAD/null-body
// split).
func New(hdrBuf, bodyBuf []byte) *Context {
	c := &Context{
		Headers: region.New(hdrBuf),
		done:    make(chan struct{}),
	}
	if bodyBuf != nil {
		c.Body = region.New(bodyBuf)
	}
	return c
}

// Reset rewinds the context for the next exchange on the same connection.
func (c *Context) Reset(hdrBuf, bodyBuf []byte) {
	c.Headers.Reset()
	if bodyBuf != nil {
		c.Body = region.New(bodyBuf)
	} else {
		c.Body = region.Region{}
	}
	c.ParserState = ParserNone
	c.BufferState = BufferNone
	c.StatusCode = 0
	c.ContentLength = 0
	c.HaveContentLength = false
	c.Chunked = false
	c.headerSearchName = ""
	c.headerSearchHit = nil
	c.HeaderCursor = 0
	c.StatusParsed = false
	c.OnBodyChunk = nil
	c.BodyCarry = nil
	c.pendingBody = nil
	c.Method = ""
	c.cancelled.Store(false)
	c.SyncStatus = nil
	c.BodyRxStatus = nil

	c.mu.Lock()
	c.done = make(chan struct{})
	c.doneClosed = false
	c.mu.Unlock()
}

// Cancel marks the exchange cancelled; observed cooperatively by the
// connection's receive-ready loop and by blocking sync waits.
func (c *Context) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (c *Context) Cancelled() bool { return c.cancelled.Load() }

// MarkDone closes the completion channel exactly once, waking any
// synchronous waiter in Wait.
func (c *Context) MarkDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}
}

// Wait blocks until MarkDone is called. The Go realization of the spec's
// binary completion semaphore.
func (c *Context) Wait() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// StartHeaderSearch switches the context into search mode looking for name
// within header bytes already landed in Headers.
func (c *Context) StartHeaderSearch(name string) {
	c.BufferState = BufferSearchingHeader
	c.headerSearchName = name
	c.headerSearchHit = nil
}

// NoteHeader is called by the driver for every parsed header field/value
// pair; while searching, it records a match against the name set by
// StartHeaderSearch.
func (c *Context) NoteHeader(field, value []byte) {
	if c.BufferState == BufferSearchingHeader && equalFold(field, c.headerSearchName) {
		c.headerSearchHit = append([]byte(nil), value...)
	}
}

// HeaderSearchResult returns the most recent StartHeaderSearch match, if any.
func (c *Context) HeaderSearchResult() ([]byte, bool) {
	if c.headerSearchHit == nil {
		return nil, false
	}
	return c.headerSearchHit, true
}

// StageBody appends body bytes for a later ReadResponseBody pull; used by
// the driver when an asynchronous exchange has neither a Body region nor
// an OnBodyChunk sink to deliver bytes to as they arrive.
func (c *Context) StageBody(b []byte) {
	c.pendingBody = append(c.pendingBody, b...)
}

// DrainBody copies as many staged body bytes into buf as fit, removing
// them from the pending queue, and reports how many bytes it wrote.
func (c *Context) DrainBody(buf []byte) int {
	n := copy(buf, c.pendingBody)
	c.pendingBody = c.pendingBody[n:]
	return n
}

// PendingBodyLen reports how many staged body bytes still await a
// ReadResponseBody pull.
func (c *Context) PendingBodyLen() int { return len(c.pendingBody) }

func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		bc, sc := b[i], s[i]
		if 'A' <= bc && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if 'A' <= sc && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if bc != sc {
			return false
		}
	}
	return true
}
