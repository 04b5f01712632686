package parser

import "testing"

func TestScanStatusLine(t *testing.T) {
	var gotCode int
	var gotReason string
	p := New(Callbacks{
		OnStatus: func(b []byte) int {
			gotReason = string(b)
			return 0
		},
	})

	line := []byte("HTTP/1.1 200 OK\r\n")
	n, err := p.ScanStatusLine(line)
	if err != nil {
		t.Fatalf("ScanStatusLine failed: %v", err)
	}
	if n != len(line) {
		t.Errorf("consumed %d, want %d", n, len(line))
	}
	gotCode = p.StatusCode()
	if gotCode != 200 {
		t.Errorf("got status code %d, want 200", gotCode)
	}
	if gotReason != "OK" {
		t.Errorf("got reason %q, want %q", gotReason, "OK")
	}
}

func TestScanStatusLineNeedsMoreData(t *testing.T) {
	p := New(Callbacks{})
	n, err := p.ScanStatusLine([]byte("HTTP/1.1 200"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("got consumed %d, want 0 for a partial line", n)
	}
}

func TestScanHeaderLine(t *testing.T) {
	var field, value string
	p := New(Callbacks{
		OnHeaderField: func(b []byte) int { field = string(b); return 0 },
		OnHeaderValue: func(b []byte) int { value = string(b); return 0 },
	})

	line := []byte("Content-Type: text/plain\r\n")
	n, blank, err := p.ScanHeaderLine(line)
	if err != nil {
		t.Fatalf("ScanHeaderLine failed: %v", err)
	}
	if blank {
		t.Error("did not expect a blank line")
	}
	if n != len(line) {
		t.Errorf("consumed %d, want %d", n, len(line))
	}
	if field != "Content-Type" || value != "text/plain" {
		t.Errorf("got field=%q value=%q", field, value)
	}
}

func TestScanHeaderLineBlank(t *testing.T) {
	p := New(Callbacks{})
	n, blank, err := p.ScanHeaderLine([]byte("\r\nbody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blank {
		t.Error("expected blank=true for the terminating line")
	}
	if n != 2 {
		t.Errorf("consumed %d, want 2", n)
	}
}

func TestScanHeaderLineMalformed(t *testing.T) {
	p := New(Callbacks{})
	_, _, err := p.ScanHeaderLine([]byte("no-colon-here\r\n"))
	if err == nil {
		t.Error("expected a grammar error for a header line with no colon")
	}
}

func TestExecuteBodyIdentity(t *testing.T) {
	var got []byte
	completed := false
	p := New(Callbacks{
		OnBody:            func(b []byte) int { got = append(got, b...); return 0 },
		OnMessageComplete:  func() int { completed = true; return 0 },
	})
	p.NoteContentLength(5)

	n, err := p.ExecuteBody([]byte("hello"))
	if err != nil {
		t.Fatalf("ExecuteBody failed: %v", err)
	}
	if n != 5 {
		t.Errorf("consumed %d, want 5", n)
	}
	if string(got) != "hello" {
		t.Errorf("got body %q", got)
	}
	if !completed {
		t.Error("expected OnMessageComplete to fire once content length is satisfied")
	}
}

func TestExecuteBodyIdentitySplitAcrossCalls(t *testing.T) {
	var got []byte
	p := New(Callbacks{OnBody: func(b []byte) int { got = append(got, b...); return 0 }})
	p.NoteContentLength(5)

	if _, err := p.ExecuteBody([]byte("he")); err != nil {
		t.Fatalf("first ExecuteBody failed: %v", err)
	}
	if _, err := p.ExecuteBody([]byte("llo")); err != nil {
		t.Fatalf("second ExecuteBody failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got body %q across two calls, want %q", got, "hello")
	}
	if !p.BodyDone() {
		t.Error("expected body to be done after all declared bytes arrive")
	}
}

func TestExecuteBodyNoContentLength(t *testing.T) {
	completed := false
	p := New(Callbacks{OnMessageComplete: func() int { completed = true; return 0 }})

	if _, err := p.ExecuteBody(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Error("expected a response with no declared length to complete immediately")
	}
}

func TestExecuteBodyChunked(t *testing.T) {
	var got []byte
	completed := false
	p := New(Callbacks{
		OnBody:            func(b []byte) int { got = append(got, b...); return 0 },
		OnMessageComplete:  func() int { completed = true; return 0 },
	})
	p.NoteChunked(true)

	wire := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	if _, err := p.ExecuteBody([]byte(wire)); err != nil {
		t.Fatalf("ExecuteBody failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
	if !completed {
		t.Error("expected OnMessageComplete to fire after the terminating chunk")
	}
}

func TestExecuteBodyTrailingPaddingIsBenign(t *testing.T) {
	p := New(Callbacks{})
	p.NoteContentLength(0)

	if _, err := p.ExecuteBody(nil); err != nil {
		t.Fatalf("unexpected error completing a zero-length body: %v", err)
	}
	_, err := p.ExecuteBody([]byte{0, 0, 0})
	if err == nil {
		t.Fatal("expected trailing zero padding to be reported")
	}
	if !IsBenign(err) {
		t.Errorf("expected trailing padding to classify as benign, got %v", err)
	}
}
