// Package connection implements one persistent HTTP/1.1 connection: the
// request/response FIFO, the implicit-connect-on-first-use and
// strict-serialization (no pipelining) rules, and the receive-ready-driven
// loop that feeds bytes from pkg/transport into pkg/driver as they land.
// Both synchronous (blocking call + completion channel) and asynchronous
// (per-phase callback table) dispatch share this one loop; the only
// difference is what happens when the exchange finishes.
package connection

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/embedhttp/httpc/pkg/driver"
	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/request"
	"github.com/embedhttp/httpc/pkg/response"
	"github.com/embedhttp/httpc/pkg/scheduler"
	"github.com/embedhttp/httpc/pkg/timing"
	"github.com/embedhttp/httpc/pkg/transport"
)

// Logger is the minimal structured-logging seam the connection layer
// accepts (via Options.Logger); satisfied trivially by the standard library's *log.Logger via a
// thin adapter, or by any richer logger a caller already has. No pack
// example ships an HTTP-client-side structured logger to ground this on, so
// it is deliberately the one ambient piece built against an interface of
// our own rather than a third-party logging library (see DESIGN.md).
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Options configures a Connection. Scheme/Host/Port are required; the
// remaining TLS/timeout fields are forwarded to transport.ConnInfo
// unchanged.
type Options struct {
	Scheme string
	Host   string
	Port   int
	transport.ConnInfo

	Scheduler scheduler.Scheduler
	Logger    Logger
}

// Connection drives one socket's worth of strictly-serialized HTTP/1.1
// exchanges. It is not safe for concurrent Do/DoAsync calls from multiple
// goroutines without external synchronization beyond what the internal
// queue provides for ordering; Connect/Disconnect/Do/DoAsync/Metadata are
// each individually safe to call concurrently with one another.
type Connection struct {
	opts Options
	log  Logger
	sch  scheduler.Scheduler

	mu          sync.Mutex
	conn        transport.Conn
	meta        transport.Metadata
	connected   bool
	connMetrics timing.Metrics

	current    *request.Context
	queueHead  *request.Context
	queueTail  *request.Context
	inFlight   atomic.Bool
	shouldStop bool

	reqTimer  *timing.Timer
	ttfbMark  bool
}

// New constructs an idle Connection. Connect (explicit, or implicit on the
// first Do/DoAsync call) dials the socket.
func New(opts Options) *Connection {
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	sch := opts.Scheduler
	if sch == nil {
		sch = scheduler.NewBounded(1)
	}
	return &Connection{opts: opts, log: log, sch: sch}
}

// Connect dials the socket if not already connected. Safe to call
// explicitly; Do/DoAsync call it implicitly when needed.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	info := c.opts.ConnInfo
	info.Scheme, info.Host, info.Port = c.opts.Scheme, c.opts.Host, c.opts.Port

	timer := timing.NewTimer()
	cn, meta, err := transport.Dial(ctx, info, timer)
	if err != nil {
		return err
	}
	c.conn = cn
	c.meta = meta
	c.connMetrics = timer.Metrics()
	c.connected = true
	c.conn.SetReceiveCallback(c.onReceiveReady)
	c.log.Debugf("connected to %s:%d (%s)", c.opts.Host, c.opts.Port, meta.NegotiatedProtocol)
	return nil
}

// Disconnect tears down the socket. It refuses with Busy if an exchange is
// currently in flight.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight.Load() {
		return httperr.NewBusy("disconnect")
	}
	if !c.connected {
		return nil
	}
	err := c.conn.Destroy()
	c.connected = false
	c.conn = nil
	return err
}

// Metadata returns the metadata from the most recent successful Connect.
func (c *Connection) Metadata() transport.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// ConnectTiming returns the DNS/TCP/TLS latency of the most recent Connect.
func (c *Connection) ConnectTiming() timing.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connMetrics
}

// Do submits req for synchronous dispatch, blocking until the response is
// complete or ctx is done, and returning its terminal error, if any. If
// ctx's deadline passes first, req is cancelled and Do returns Busy; any
// other end of ctx cancels req and returns AsyncCancelled.
func (c *Connection) Do(ctx context.Context, req *request.Context) error {
	req.Mode = request.ModeSync
	if err := c.submit(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.Response.Wait():
	case <-ctx.Done():
		req.Cancel()
		if ctx.Err() == context.DeadlineExceeded {
			return httperr.NewBusy("do")
		}
		return httperr.New(httperr.AsyncCancelled, "do", "context cancelled")
	}
	if req.Response.SyncStatus != nil {
		return req.Response.SyncStatus
	}
	if req.Response.BodyRxStatus != nil {
		// The driver wakes Wait at BODY_COMPLETE, which can be before
		// finish has copied this status into SyncStatus.
		return req.Response.BodyRxStatus
	}
	return nil
}

// DoAsync submits req for asynchronous dispatch and returns immediately;
// req.Callback's phase callbacks drive the caller from here on.
func (c *Connection) DoAsync(ctx context.Context, req *request.Context) error {
	req.Mode = request.ModeAsync
	return c.submit(ctx, req)
}

func (c *Connection) submit(ctx context.Context, req *request.Context) error {
	req.Response.Method = req.Method
	driver.Bind(req.Response)

	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.enqueueLocked(req)
	shouldDispatch := c.current == nil
	c.mu.Unlock()

	if shouldDispatch {
		return c.sch.Schedule(func() { c.dispatchNext(ctx) })
	}
	return nil
}

func (c *Connection) enqueueLocked(req *request.Context) {
	req.SetNext(nil)
	if c.queueTail == nil {
		c.queueHead, c.queueTail = req, req
	} else {
		c.queueTail.SetNext(req)
		c.queueTail = req
	}
}

func (c *Connection) dequeueLocked() *request.Context {
	req := c.queueHead
	if req == nil {
		return nil
	}
	c.queueHead = req.Next()
	if c.queueHead == nil {
		c.queueTail = nil
	}
	req.SetNext(nil)
	return req
}

func (c *Connection) dispatchNext(ctx context.Context) {
	c.mu.Lock()
	req := c.dequeueLocked()
	if req == nil {
		c.current = nil
		c.mu.Unlock()
		return
	}
	c.current = req
	conn := c.conn
	c.reqTimer = timing.NewTimer()
	c.ttfbMark = false
	c.mu.Unlock()

	c.inFlight.Store(true)

	if req.Cancelled() {
		c.finish(req, httperr.New(httperr.AsyncCancelled, "dispatch", "request cancelled before send"))
		return
	}

	// Ordering guarantee (spec section 5): appendHeaderCallback precedes
	// writeCallback precedes any byte sent on the wire. writeCallback may
	// hand back the body to send, establishing Content-Length.
	if cb := req.Callback; cb != nil {
		if cb.OnAppendHeader != nil {
			cb.OnAppendHeader(req)
		}
		if cb.OnWrite != nil {
			if body, _ := cb.OnWrite(req); body != nil {
				req.Body = body
			}
		}
	}

	if err := req.FinalizeHeaders(len(req.Body)); err != nil {
		c.finish(req, err)
		return
	}
	if err := sendAll(conn, req.Headers.Bytes()); err != nil {
		c.finish(req, err)
		return
	}
	if len(req.Body) > 0 {
		if err := sendAll(conn, req.Body); err != nil {
			c.finish(req, err)
			return
		}
	}

	c.mu.Lock()
	if c.reqTimer != nil {
		c.reqTimer.StartTTFB()
	}
	c.mu.Unlock()

	if cb := req.Callback; cb != nil && cb.OnConnectionEstablished != nil {
		cb.OnConnectionEstablished(req)
	}
	// The receive-ready callback drives the remainder of this exchange;
	// nothing further happens on this goroutine.
}

func sendAll(conn transport.Conn, p []byte) error {
	for len(p) > 0 {
		n, err := conn.Send(p)
		if err != nil {
			return httperr.NewNetworkError("send", err)
		}
		p = p[n:]
	}
	return nil
}

// onReceiveReady runs on the transport's background reader goroutine each
// time fresh bytes land (or the socket closes). It reads whatever is
// available into the current exchange's active buffer and drives the
// driver state machine forward.
func (c *Connection) onReceiveReady() {
	c.mu.Lock()
	req := c.current
	conn := c.conn
	c.mu.Unlock()
	if req == nil || conn == nil {
		return
	}
	resp := req.Response
	cb := req.Callback

	for {
		if resp.Cancelled() {
			c.finish(req, httperr.New(httperr.AsyncCancelled, "recv", "cancellation observed"))
			return
		}

		if resp.ParserState < response.ParserHeadersComplete {
			n, err := conn.Recv(resp.Headers.FreeSpan())
			if n > 0 {
				c.markTTFB()
				if aerr := resp.Headers.Advance(n); aerr != nil {
					c.finish(req, aerr)
					return
				}
			}
			if err != nil {
				c.finish(req, err)
				return
			}
			if n == 0 {
				return // nothing available right now; wait for next ready signal
			}
			if ferr := driver.FeedHeaders(resp); ferr != nil {
				c.finish(req, ferr)
				return
			}
			if resp.ParserState == response.ParserHeadersComplete {
				// Bytes past the header block may have landed in the same
				// recv that completed the headers; feed them through the
				// body parser immediately rather than waiting on a
				// separate recv that may never come (e.g. a short body
				// that fit in the same read as the headers).
				leftover := append([]byte(nil), resp.Headers.Bytes()[resp.HeaderCursor:]...)
				resp.HeaderCursor = len(resp.Headers.Bytes())
				if len(leftover) > 0 && cb != nil && cb.OnReadReady != nil {
					cb.OnReadReady(req)
				}
				if _, ferr := driver.FeedBody(resp, leftover); ferr != nil {
					c.finish(req, ferr)
					return
				}
			}
			continue
		}

		if resp.ParserState == response.ParserBodyComplete {
			c.finish(req, resp.BodyRxStatus)
			return
		}

		var scratch [4096]byte
		n, err := conn.Recv(scratch[:])
		if n > 0 {
			if cb != nil && cb.OnReadReady != nil {
				cb.OnReadReady(req)
			}
			if _, ferr := driver.FeedBody(resp, scratch[:n]); ferr != nil {
				c.finish(req, ferr)
				return
			}
		}
		if err != nil {
			c.finish(req, err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// flushNetworkData drains any residual bytes of an exchange that ended
// before BODY_COMPLETE (cancellation, or a sync body buffer that filled —
// see MessageTooLarge) so they don't get mistaken for the start of the
// next response on a reused persistent connection (spec section 4.5,
// scenarios S3/S5). It reads whatever the transport already has buffered
// and feeds it to the parser until BODY_COMPLETE, or until a recv reports
// nothing pending or a network error — either of which is accepted as
// "nothing more to flush".
func flushNetworkData(conn transport.Conn, resp *response.Context) {
	if conn == nil {
		return
	}
	for resp.ParserState != response.ParserBodyComplete {
		if resp.ParserState < response.ParserHeadersComplete {
			n, err := conn.Recv(resp.Headers.FreeSpan())
			if n > 0 {
				resp.Headers.Advance(n)
				driver.FeedHeaders(resp)
			}
			if err != nil || n == 0 {
				return
			}
			continue
		}
		var buf [512]byte
		n, err := conn.Recv(buf[:])
		if n > 0 {
			driver.FeedBody(resp, buf[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}

func (c *Connection) markTTFB() {
	c.mu.Lock()
	if c.reqTimer != nil && !c.ttfbMark {
		c.reqTimer.EndTTFB()
		c.ttfbMark = true
	}
	c.mu.Unlock()
}

func (c *Connection) finish(req *request.Context, err error) {
	resp := req.Response
	if err != nil {
		resp.SyncStatus = toHTTPErr(err)
	}

	c.mu.Lock()
	conn := c.conn
	c.current = nil
	c.inFlight.Store(false)
	if c.reqTimer != nil {
		resp.Timing = c.reqTimer.Metrics()
	}
	c.mu.Unlock()

	keepAlive := req.Persistent && !isFatalConnectionError(err)
	cb := req.Callback

	// Cleanup order mirrors spec section 4.5 step 7/8: disconnect (and,
	// async, connectionClosedCallback) or flush residual bytes, BEFORE
	// responseComplete/error is delivered and the sync waiter is woken.
	if !keepAlive {
		c.Disconnect()
		if cb != nil && cb.OnConnectionClosed != nil {
			cb.OnConnectionClosed(req)
		}
	} else if resp.ParserState != response.ParserBodyComplete {
		flushNetworkData(conn, resp)
	}

	if cb != nil {
		if err != nil && cb.OnError != nil {
			cb.OnError(req, err)
		} else if cb.OnResponseComplete != nil {
			cb.OnResponseComplete(req)
		}
	}
	resp.MarkDone()

	c.mu.Lock()
	hasMore := c.queueHead != nil
	c.mu.Unlock()
	if hasMore && keepAlive {
		c.sch.Schedule(func() { c.dispatchNext(context.Background()) })
	}
}

// isFatalConnectionError reports whether err forces the connection itself
// to be torn down rather than just failing this one exchange. Per the
// error table (spec section 7), only a transport failure or a grammar
// violation marks the connection unusable; MessageTooLarge and
// AsyncCancelled are recoverable for the exchange and the connection is
// flushed and kept alive instead.
func isFatalConnectionError(err error) bool {
	switch httperr.KindOf(err) {
	case httperr.NetworkError, httperr.ParsingError, httperr.ConnectionError:
		return true
	default:
		return false
	}
}

func toHTTPErr(err error) *httperr.Error {
	if e, ok := err.(*httperr.Error); ok {
		return e
	}
	return httperr.Wrap(httperr.InternalError, "connection", "unclassified failure", err)
}
