// Package request models one outgoing HTTP/1.1 exchange: the request line
// and headers laid out in a caller-supplied buffer via pkg/region, the
// paired response context, and the sync/async dispatch metadata the
// connection layer needs to drive it.
package request

import (
	"fmt"

	"golang.org/x/net/http/httpguts"

	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/region"
	"github.com/embedhttp/httpc/pkg/response"
)

// Mode selects synchronous (blocking, completion-channel) or asynchronous
// (callback-table-driven) dispatch for one request.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

// Callbacks is the per-phase table an async request is driven through,
// mirroring the spec's connectionEstablishedCallback / appendHeaderCallback
// / writeCallback / readReadyCallback / responseCompleteCallback /
// connectionClosedCallback / errorCallback contract.
type Callbacks struct {
	OnConnectionEstablished func(*Context)
	OnAppendHeader          func(*Context)
	OnWrite                 func(*Context) ([]byte, bool) // returns next body chunk, done
	OnReadReady             func(*Context)
	OnResponseComplete      func(*Context)
	OnConnectionClosed      func(*Context)
	OnError                 func(*Context, error)
}

// reservedTail is the worst-case size of the auto-generated trailing
// headers (Content-Length, Connection, and the final blank line) the
// connection layer appends after the caller's own headers.
const reservedTail = len("Content-Length: 18446744073709551615\r\n") + len("Connection: keep-alive\r\n") + len("\r\n")

// ReservedTail exposes reservedTail for callers sizing their own buffers.
func ReservedTail() int { return reservedTail }

// Context is one request/response exchange.
type Context struct {
	Method string
	Path   string
	Host   string
	Port   int

	Mode       Mode
	Persistent bool

	Headers region.Region // request line + headers, reserved-tail budgeted
	Body    []byte        // caller-owned outgoing body, may be nil

	Response *response.Context
	Callback *Callbacks
	UserData any

	finishedSend bool
	cancelled    bool

	// next links this Context into a connection's intrusive FIFO queue,
	// avoiding a slice allocation per enqueue.
	next *Context
}

// New lays out the request line into buf and reserves room for the
// trailing auto-generated headers, leaving the region ready for AddHeader
// calls. method, path and host must be non-empty.
func New(buf []byte, method, path, host string, port int) (*Context, error) {
	if method == "" || path == "" || host == "" {
		return nil, httperr.NewInvalidParameter("method, path and host are required")
	}
	r := region.New(buf)
	if err := r.Reserve(reservedTail); err != nil {
		return nil, err
	}
	if err := r.WriteString(method); err != nil {
		return nil, err
	}
	if err := r.WriteString(" "); err != nil {
		return nil, err
	}
	if err := r.WriteString(path); err != nil {
		return nil, err
	}
	if err := r.WriteString(" HTTP/1.1\r\n"); err != nil {
		return nil, err
	}
	c := &Context{
		Method:     method,
		Path:       path,
		Host:       host,
		Port:       port,
		Persistent: true,
		Headers:    r,
	}
	if err := c.AddHeader("Host", hostHeaderValue(host, port)); err != nil {
		return nil, err
	}
	return c, nil
}

func hostHeaderValue(host string, port int) string {
	if port == 80 || port == 443 || port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// AddHeader appends one "Name: Value\r\n" line, validating both token
// grammar via golang.org/x/net/http/httpguts the same way net/http's own
// header writer does. Returns InsufficientMemory if the region (after the
// reserved tail) has no room left.
func (c *Context) AddHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return httperr.NewInvalidParameter("invalid header field name: " + name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return httperr.NewInvalidParameter("invalid header field value for " + name)
	}
	if err := c.Headers.WriteString(name); err != nil {
		return err
	}
	if err := c.Headers.WriteString(": "); err != nil {
		return err
	}
	if err := c.Headers.WriteString(value); err != nil {
		return err
	}
	return c.Headers.WriteString("\r\n")
}

// FinalizeHeaders writes the auto-generated Content-Length/Connection
// headers and the terminating blank line into the space Reserve budgeted,
// using WriteString against the now-unreserved tail. Called by the
// connection layer once the body length (if any) is known, immediately
// before the request is sent.
func (c *Context) FinalizeHeaders(bodyLen int) error {
	c.Headers.ReleaseReservedTail()
	if bodyLen > 0 {
		if err := c.Headers.WriteString(fmt.Sprintf("Content-Length: %d\r\n", bodyLen)); err != nil {
			return err
		}
	}
	conn := "keep-alive"
	if !c.Persistent {
		conn = "close"
	}
	if err := c.Headers.WriteString(fmt.Sprintf("Connection: %s\r\n", conn)); err != nil {
		return err
	}
	return c.Headers.WriteString("\r\n")
}

// SetBody attaches the outgoing request body. Calling it twice is rejected
// with MessageFinished, mirroring the spec's write-once body contract.
func (c *Context) SetBody(body []byte) error {
	if c.finishedSend {
		return httperr.New(httperr.MessageFinished, "set-body", "request body already finalized")
	}
	c.Body = body
	c.finishedSend = true
	return nil
}

// Cancel marks this exchange (and its paired response, if any) cancelled.
func (c *Context) Cancel() {
	c.cancelled = true
	if c.Response != nil {
		c.Response.Cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Context) Cancelled() bool { return c.cancelled }

// Next returns the intrusive queue successor, or nil.
func (c *Context) Next() *Context { return c.next }

// SetNext sets the intrusive queue successor; used only by pkg/connection's
// FIFO queue implementation.
func (c *Context) SetNext(n *Context) { c.next = n }
