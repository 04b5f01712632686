// Package httpc is a caller-buffered HTTP/1.1 client: every request and
// response is laid out inside buffers the caller supplies up front, with
// no allocation on the request/response hot path. It supports both a
// blocking synchronous call and a callback-driven asynchronous one over
// the same strictly-serialized, one-exchange-at-a-time persistent
// connection.
package httpc

import (
	"github.com/embedhttp/httpc/pkg/connection"
	"github.com/embedhttp/httpc/pkg/driver"
	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/region"
	"github.com/embedhttp/httpc/pkg/request"
	"github.com/embedhttp/httpc/pkg/response"
	"github.com/embedhttp/httpc/pkg/scheduler"
	"github.com/embedhttp/httpc/pkg/transport"
)

// Version is the current version of this library.
const Version = "1.0.0"

// Re-export the package surface callers need so `import httpc` is enough
// for the common case; pkg/request, pkg/response etc. remain directly
// importable for advanced use.
type (
	// Connection drives one persistent HTTP/1.1 connection.
	Connection = connection.Connection

	// Options configures a Connection's target and transport behavior.
	Options = connection.Options

	// Logger is the structured-logging seam Options.Logger accepts.
	Logger = connection.Logger

	// Request is one outgoing exchange: request line, headers and body.
	Request = request.Context

	// RequestMode selects synchronous or asynchronous dispatch.
	RequestMode = request.Mode

	// Callbacks is the per-phase table an asynchronous request is driven through.
	Callbacks = request.Callbacks

	// Response is one exchange's response state: status, headers and body.
	Response = response.Context

	// Error is the structured error every operation in this module returns.
	Error = httperr.Error

	// ErrorKind categorizes an Error for branching without string matching.
	ErrorKind = httperr.Kind

	// Scheduler dispatches asynchronous request work.
	Scheduler = scheduler.Scheduler

	// ConnInfo carries the dial/TLS options forwarded to the transport layer.
	ConnInfo = transport.ConnInfo

	// Metadata describes the socket and TLS session of a connected Connection.
	Metadata = transport.Metadata
)

// Dispatch modes, re-exported from pkg/request.
const (
	ModeSync  = request.ModeSync
	ModeAsync = request.ModeAsync
)

// Error kinds, re-exported from pkg/httperr.
const (
	ErrInvalidParameter     = httperr.InvalidParameter
	ErrInsufficientMemory   = httperr.InsufficientMemory
	ErrConnectionError      = httperr.ConnectionError
	ErrNetworkError         = httperr.NetworkError
	ErrTimeoutError         = httperr.TimeoutError
	ErrParsingError         = httperr.ParsingError
	ErrMessageTooLarge      = httperr.MessageTooLarge
	ErrMessageFinished      = httperr.MessageFinished
	ErrNotFound             = httperr.NotFound
	ErrAsyncCancelled       = httperr.AsyncCancelled
	ErrAsyncSchedulingError = httperr.AsyncSchedulingError
	ErrBusy                 = httperr.Busy
	ErrInternalError        = httperr.InternalError
	ErrNotSupported         = httperr.NotSupported
)

// Init is the library-level lifecycle entry point mirroring the embedded
// source's IotHttpsClientInit: it exists so callers ported from that API
// have a single place to call before constructing any Connection. This
// implementation holds no process-global state, so Init does nothing and
// always returns nil; it is safe to skip entirely.
func Init() error {
	return nil
}

// Deinit is Init's counterpart; like Init, it is a no-op kept for parity
// with the embedded source's explicit init/cleanup pairing. Callers should
// still Disconnect every Connection they opened themselves.
func Deinit() error {
	return nil
}

// NewConnection constructs an idle Connection for opts' target. Connect is
// implicit on the first Do/DoAsync call, or can be called explicitly.
func NewConnection(opts Options) *Connection {
	return connection.New(opts)
}

// NewRequest lays out a request line and Host header into buf (which must
// be large enough for the request line, every AddHeader call, and the
// reserved trailing Content-Length/Connection headers — see
// request.ReservedTail) and pairs it with a response reading into hdrBuf
// and, optionally, bodyBuf.
func NewRequest(buf []byte, method, path, host string, port int, hdrBuf, bodyBuf []byte) (*Request, error) {
	req, err := request.New(buf, method, path, host, port)
	if err != nil {
		return nil, err
	}
	req.Response = response.New(hdrBuf, bodyBuf)
	return req, nil
}

// ReadHeader searches resp's already-landed header bytes for name,
// returning its value. It is safe to call only after the headers phase of
// the exchange has completed (after Do returns, or once DoAsync's
// OnResponseComplete has fired).
func ReadHeader(resp *Response, name string) (string, bool) {
	v, ok := driver.FindHeader(resp, name)
	if !ok {
		return "", false
	}
	return string(v), true
}

// ReadResponseBody copies up to len(buf) bytes of an asynchronous
// request's response body into buf, for callers that built resp via
// response.New(hdrBuf, nil) (no Body region) and did not set OnBodyChunk
// either. Synchronous callers never need it: Do already waits for the
// body to land in the Body region supplied to NewRequest.
func ReadResponseBody(resp *Response, buf []byte) (n int, done bool) {
	return driver.ReadResponseBody(resp, buf)
}

// ReservedTail returns the number of bytes NewRequest reserves at the end
// of its request buffer for the auto-generated trailing headers.
func ReservedTail() int { return request.ReservedTail() }

// Region re-exports pkg/region.Region for callers building custom buffer
// layouts outside NewRequest.
type Region = region.Region
