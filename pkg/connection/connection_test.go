package connection

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/embedhttp/httpc/pkg/httperr"
	"github.com/embedhttp/httpc/pkg/request"
	"github.com/embedhttp/httpc/pkg/response"
)

// serveLoop accepts a single connection and replies to every request read
// from it with a canned response; it stops once a read fails or, when
// keepAlive is false, after the first reply.
func serveLoop(t *testing.T, ln net.Listener, body string, keepAlive bool) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			req, err := http.ReadRequest(r)
			if err != nil {
				return
			}
			req.Body.Close()
			resp := "HTTP/1.1 200 OK\r\n" +
				"Content-Type: text/plain\r\n" +
				"Content-Length: " + strconv.Itoa(len(body)) + "\r\n"
			if !keepAlive {
				resp += "Connection: close\r\n"
			}
			resp += "\r\n" + body
			if _, err := c.Write([]byte(resp)); err != nil {
				return
			}
			if !keepAlive {
				return
			}
		}
	}()
}

func dialOptions(t *testing.T, ln net.Listener) Options {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("bad listener addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return Options{
		Scheme: "http",
		Host:   host,
		Port:   port,
	}
}

func newReq(t *testing.T, path string) *request.Context {
	t.Helper()
	req, err := request.New(make([]byte, 512), "GET", path, "example.com", 80)
	if err != nil {
		t.Fatalf("request.New failed: %v", err)
	}
	req.Response = response.New(make([]byte, 512), make([]byte, 512))
	return req
}

func newReqMethod(t *testing.T, method, path string) *request.Context {
	t.Helper()
	req, err := request.New(make([]byte, 512), method, path, "example.com", 80)
	if err != nil {
		t.Fatalf("request.New failed: %v", err)
	}
	req.Response = response.New(make([]byte, 512), make([]byte, 512))
	return req
}

func TestDoSynchronousRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	serveLoop(t, ln, "hello world", true)

	conn := New(dialOptions(t, ln))
	req := newReq(t, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Do(ctx, req); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if req.Response.StatusCode != 200 {
		t.Errorf("got status %d, want 200", req.Response.StatusCode)
	}
	if string(req.Response.Body.Bytes()) != "hello world" {
		t.Errorf("got body %q, want %q", req.Response.Body.Bytes(), "hello world")
	}
}

func TestDoReusesPersistentConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	serveLoop(t, ln, "ok", true)

	conn := New(dialOptions(t, ln))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req1 := newReq(t, "/first")
	if err := conn.Do(ctx, req1); err != nil {
		t.Fatalf("first Do failed: %v", err)
	}
	meta1 := conn.Metadata()

	req2 := newReq(t, "/second")
	if err := conn.Do(ctx, req2); err != nil {
		t.Fatalf("second Do failed: %v", err)
	}
	meta2 := conn.Metadata()

	if meta1.LocalAddr != meta2.LocalAddr {
		t.Errorf("expected the second request to reuse the same socket, got %q then %q", meta1.LocalAddr, meta2.LocalAddr)
	}
}

func TestDisconnectRefusesWhileInFlight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	// Accept but never write a response, so the exchange stays in flight
	// until the test tears it down.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		c.Read(buf) // drain the request, then hang
		time.Sleep(2 * time.Second)
	}()

	conn := New(dialOptions(t, ln))
	req := newReq(t, "/")
	req.Persistent = true

	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := conn.DoAsync(ctx, req); err != nil {
		t.Fatalf("DoAsync failed: %v", err)
	}

	// Give the dispatch goroutine a moment to mark the exchange in flight.
	time.Sleep(100 * time.Millisecond)

	if err := conn.Disconnect(); err == nil {
		t.Error("expected Disconnect to refuse while an exchange is in flight")
	}
}

func TestDoAsyncInvokesCallbacks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	serveLoop(t, ln, "async body", false)

	conn := New(dialOptions(t, ln))
	req := newReq(t, "/")
	req.Persistent = false

	done := make(chan struct{})
	var gotStatus int
	req.Callback = &request.Callbacks{
		OnResponseComplete: func(r *request.Context) {
			gotStatus = r.Response.StatusCode
			close(done)
		},
		OnError: func(r *request.Context, err error) {
			close(done)
		},
	}

	if err := conn.DoAsync(context.Background(), req); err != nil {
		t.Fatalf("DoAsync failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async completion callback")
	}
	if gotStatus != 200 {
		t.Errorf("got status %d, want 200", gotStatus)
	}
}

func TestDoSuppressesHeadResponseBody(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	serveLoop(t, ln, "this body must never reach the caller", true)

	conn := New(dialOptions(t, ln))
	req := newReqMethod(t, "HEAD", "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Do(ctx, req); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if req.Response.StatusCode != 200 {
		t.Errorf("got status %d, want 200", req.Response.StatusCode)
	}
	if req.Response.Body.Len() != 0 {
		t.Errorf("got %d body bytes for a HEAD request, want 0", req.Response.Body.Len())
	}
}

func TestDoReportsMessageTooLargeAndKeepsConnectionUsable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	serveLoop(t, ln, "this response body is much too long for a tiny buffer", true)

	conn := New(dialOptions(t, ln))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req1, err := request.New(make([]byte, 512), "GET", "/first", "example.com", 80)
	if err != nil {
		t.Fatalf("request.New failed: %v", err)
	}
	req1.Response = response.New(make([]byte, 512), make([]byte, 4))
	req1.Persistent = true

	err = conn.Do(ctx, req1)
	if err == nil {
		t.Fatal("expected Do to report an error for an overflowing body buffer")
	}
	if got := httperr.KindOf(err); got != httperr.MessageTooLarge {
		t.Errorf("got error kind %v, want MessageTooLarge", got)
	}

	// The connection should have been flushed and kept alive, not torn down.
	req2 := newReq(t, "/second")
	req2.Persistent = true
	if err := conn.Do(ctx, req2); err != nil {
		t.Fatalf("second Do on the same connection failed: %v", err)
	}
	if req2.Response.StatusCode != 200 {
		t.Errorf("got status %d, want 200", req2.Response.StatusCode)
	}
}

func TestDispatchNextInvokesWriteCallbackBeforeSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	gotBody := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		httpReq, err := http.ReadRequest(r)
		if err != nil {
			return
		}
		buf := make([]byte, httpReq.ContentLength)
		io.ReadFull(httpReq.Body, buf)
		gotBody <- string(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
	}()

	conn := New(dialOptions(t, ln))
	req, err := request.New(make([]byte, 512), "POST", "/", "example.com", 80)
	if err != nil {
		t.Fatalf("request.New failed: %v", err)
	}
	req.Response = response.New(make([]byte, 512), make([]byte, 512))
	req.Persistent = false

	var order []string
	req.Callback = &request.Callbacks{
		OnAppendHeader: func(r *request.Context) {
			order = append(order, "appendHeader")
		},
		OnWrite: func(r *request.Context) ([]byte, bool) {
			order = append(order, "write")
			return []byte("payload"), true
		},
		OnResponseComplete: func(r *request.Context) {},
		OnError:            func(r *request.Context, err error) {},
	}

	if err := conn.DoAsync(context.Background(), req); err != nil {
		t.Fatalf("DoAsync failed: %v", err)
	}

	select {
	case body := <-gotBody:
		if body != "payload" {
			t.Errorf("got request body %q, want %q", body, "payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the server to read the request body")
	}

	if len(order) != 2 || order[0] != "appendHeader" || order[1] != "write" {
		t.Errorf("got callback order %v, want [appendHeader write]", order)
	}
}
