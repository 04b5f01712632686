// Package driver implements the response processing state machine: it
// drives pkg/parser across the header and body regions of a
// pkg/response.Context, advancing the two orthogonal state machines
// (ParserState and BufferState) as bytes land, and exposes the
// search-the-already-landed-headers mode ReadHeader needs once a response
// is complete. This is the direct Go realization of the original source's
// _processBuffer / _readHeader / _networkReceiveCallback trio (see
// DESIGN.md).
package driver

import (
	"bytes"
	"strconv"

	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/parser"
	"github.com/embedhttp/httpc/pkg/response"
)

// MaxContentLength bounds a declared Content-Length the same way the
// original source's IOT_HTTPS_MAX_CONTENT_LENGTH constant does, rejecting
// responses that claim an implausibly large body before any body buffer
// is even touched.
const MaxContentLength = 1 << 40 // 1 TiB

// Bind wires a fresh parser.Parser into resp, with callbacks that update
// resp's fields and regions directly. response.New does not bind a parser;
// pkg/connection calls Bind for every exchange it submits, and
// response.Context.Reset leaves the bound parser untouched.
func Bind(resp *response.Context) {
	var lastField []byte

	resp.Parser = parser.New(parser.Callbacks{
		OnHeaderField: func(b []byte) int {
			lastField = b
			return 0
		},
		OnHeaderValue: func(b []byte) int {
			resp.NoteHeader(lastField, b)
			switch {
			case bytesEqualFold(lastField, "Content-Length"):
				if n, err := strconv.ParseUint(string(bytes.TrimSpace(b)), 10, 64); err == nil {
					if n > MaxContentLength {
						resp.BodyRxStatus = httperr.New(httperr.MessageTooLarge, "headers", "declared Content-Length exceeds the maximum accepted size")
						return 1
					}
					resp.Parser.NoteContentLength(n)
					resp.ContentLength = n
					resp.HaveContentLength = true
				}
			case bytesEqualFold(lastField, "Transfer-Encoding"):
				if bytes.Contains(bytes.ToLower(b), []byte("chunked")) {
					resp.Parser.NoteChunked(true)
					resp.Chunked = true
				}
			}
			return 0
		},
		OnBody: func(b []byte) int {
			if resp.BodyRxStatus != nil {
				// Already flagged (e.g. MessageTooLarge): keep draining
				// so the parser still reaches BODY_COMPLETE instead of
				// leaving the framing half-consumed for the next
				// exchange on this connection (see DESIGN.md on Flush).
				return 0
			}
			switch {
			case !resp.Body.IsZero():
				if err := resp.Body.Write(b); err != nil {
					resp.BodyRxStatus = httperr.NewMessageTooLarge("body")
				}
			case resp.OnBodyChunk != nil:
				resp.OnBodyChunk(b)
			default:
				resp.StageBody(b)
			}
			return 0
		},
		OnHeadersComplete: func() int {
			resp.ParserState = response.ParserHeadersComplete
			if bodySuppressed(resp) {
				// HEAD responses never get a body phase: jump straight to
				// BODY_COMPLETE instead of waiting on bytes that will never
				// arrive. A response with no Body region is not suppressed
				// here (see bodySuppressed).
				resp.ParserState = response.ParserBodyComplete
				resp.BufferState = response.BufferFinished
				resp.MarkDone()
				return 1
			}
			return 0
		},
		OnMessageComplete: func() int {
			resp.ParserState = response.ParserBodyComplete
			resp.BufferState = response.BufferFinished
			resp.MarkDone()
			return 0
		},
	})
}

// bodySuppressed reports whether resp's body phase should be skipped
// entirely once headers complete. A HEAD response never carries a body
// regardless of a declared Content-Length (spec section 4.2, testable
// property 7). A response with no Body region and no OnBodyChunk sink is
// NOT suppressed here: async callers reach that combination deliberately,
// to pull the body on demand via ReadResponseBody, so OnBody stages those
// bytes (resp.StageBody) rather than discarding them — see DESIGN.md on
// the HEAD/null-body-buffer split from the original source's conflation
// of the two.
func bodySuppressed(resp *response.Context) bool {
	return resp.Method == "HEAD"
}

// IsBenignParserError reports whether err is one of the whitelisted
// parser errors the original source treats as non-fatal (trailing zero
// padding past the end of a message — see spec section 9).
func IsBenignParserError(err error) bool {
	return parser.IsBenign(err)
}

// FeedHeaders advances header parsing as far as the bytes already landed
// in resp.Headers allow, firing status-line and header callbacks. It
// returns once it needs more data, hits the terminating blank line, or
// fails with a grammar error.
func FeedHeaders(resp *response.Context) error {
	resp.BufferState = response.BufferFillingHeader
	buf := resp.Headers.Bytes()

	if !resp.StatusParsed {
		n, err := resp.Parser.ScanStatusLine(buf[resp.HeaderCursor:])
		if err != nil {
			return classify(err)
		}
		if n == 0 {
			return nil // need more bytes for the status line
		}
		resp.HeaderCursor += n
		resp.StatusParsed = true
		resp.StatusCode = resp.Parser.StatusCode()
		resp.ParserState = response.ParserInHeaders
	}

	for {
		n, blank, err := resp.Parser.ScanHeaderLine(buf[resp.HeaderCursor:])
		if err != nil {
			return classify(err)
		}
		if n == 0 {
			return nil // need more bytes for the next header line
		}
		resp.HeaderCursor += n
		if resp.BodyRxStatus != nil {
			return resp.BodyRxStatus
		}
		if blank {
			return nil
		}
	}
}

// FeedBody advances body parsing as far as the bytes already landed in buf
// allow. pkg/connection passes exactly the bytes its most recent receive
// returned; if buf nevertheless carries trailing zero padding past the end
// of the message, the resulting ErrTrailingPadding is folded into a clean
// nil return.
//
// Any bytes resp.BodyCarry already holds — left over from a prior call
// that straddled a chunk-framing token across a recv boundary, or body
// bytes that rode along with the recv that completed the headers — are
// fed ahead of buf. If this call again stops short of the combined input
// while the body is still in progress, the unconsumed remainder is
// retained on resp.BodyCarry for the next call rather than dropped (a
// dropped remainder would corrupt chunk framing or a keep-alive
// successor's leading bytes spanning the same recv batch).
func FeedBody(resp *response.Context, buf []byte) (consumed int, err error) {
	resp.BufferState = response.BufferFillingBody
	resp.ParserState = response.ParserInBody

	combined := buf
	if len(resp.BodyCarry) > 0 {
		combined = append(append([]byte(nil), resp.BodyCarry...), buf...)
		resp.BodyCarry = nil
	}

	n, perr := resp.Parser.ExecuteBody(combined)
	if perr != nil {
		if parser.IsBenign(perr) {
			return n, nil
		}
		return n, classify(perr)
	}
	if n < len(combined) && resp.ParserState != response.ParserBodyComplete {
		resp.BodyCarry = append([]byte(nil), combined[n:]...)
	}
	return n, nil
}

// ReadResponseBody copies up to len(buf) bytes of an asynchronous
// response's body into buf, for callers that supplied neither a Body
// region nor an OnBodyChunk sink at NewRequest time — the driver stages
// those bytes on the response (see response.Context.StageBody) as they
// parse, and this drains them on demand. Meaningful only for asynchronous
// exchanges; synchronous callers get their body delivered directly into
// the Body region supplied up front. done reports whether the body is both
// fully parsed and fully drained.
func ReadResponseBody(resp *response.Context, buf []byte) (n int, done bool) {
	n = resp.DrainBody(buf)
	done = resp.ParserState == response.ParserBodyComplete && resp.PendingBodyLen() == 0
	return n, done
}

func classify(err error) error {
	if parser.IsBenign(err) {
		return nil
	}
	return httperr.NewParsingError(err)
}

// FindHeader performs the post-hoc search ReadHeader needs once a response
// is already (partially or fully) landed: it scans the raw header bytes
// directly rather than relying on callbacks from the original live parse,
// since the caller only decides which header it wants after the fact. This
// is the Go realization of the spec's SEARCHING_HEADER_BUFFER buffer
// processing state.
func FindHeader(resp *response.Context, name string) ([]byte, bool) {
	resp.StartHeaderSearch(name)
	defer func() {
		if resp.BufferState == response.BufferSearchingHeader {
			resp.BufferState = response.BufferFinished
		}
	}()

	buf := resp.Headers.Bytes()
	for len(buf) > 0 {
		nl := bytes.Index(buf, []byte("\r\n"))
		if nl <= 0 {
			break
		}
		line := buf[:nl]
		buf = buf[nl+2:]
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		field := line[:colon]
		value := bytes.TrimLeft(line[colon+1:], " ")
		if bytesEqualFold(field, name) {
			return value, true
		}
	}
	return nil, false
}

func bytesEqualFold(b []byte, s string) bool {
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
