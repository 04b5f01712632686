// Package region implements the bump-allocated cursor arena that the rest of
// the client uses to lay out a request or response entirely inside a single
// caller-supplied byte slice. No call in this package allocates; Region only
// ever grows a cursor across bytes the caller already owns.
package region

import "github.com/embedhttp/httpc/pkg/httperr"

// Region is the Go realization of the spec's (pHeaders, pHeadersCur,
// pHeadersEnd) pointer triple: buf[:cur] is already-written data, buf[cur:end]
// is free space, and buf[end:] is reserved (for the caller's own framing, or
// unused). The zero value is an empty, zero-capacity Region.
type Region struct {
	buf []byte
	cur int
	end int
}

// New wraps buf as a Region spanning its full length, cursor at the start.
func New(buf []byte) Region {
	return Region{buf: buf, cur: 0, end: len(buf)}
}

// Reserve narrows the writable end of the region by n bytes, without moving
// the cursor. Used to budget RESERVED_TAIL ahead of any AddHeader calls so
// the auto-generated trailing headers are always guaranteed to fit.
func (r *Region) Reserve(n int) error {
	if r.end-r.cur < n {
		return httperr.NewInsufficientMemory("reserve")
	}
	r.end -= n
	return nil
}

// ReleaseReservedTail restores end to the full backing length, undoing any
// Reserve call. Used once the caller is ready to write into the space a
// Reserve call budgeted ahead of time (e.g. the auto-generated trailing
// headers, once the body length is finally known).
func (r *Region) ReleaseReservedTail() {
	r.end = len(r.buf)
}

// Alloc bump-allocates n bytes from the cursor and returns them for the
// caller to fill in place; it never reads or zeroes beyond what Write below
// already wrote.
func (r *Region) Alloc(n int) ([]byte, error) {
	if r.end-r.cur < n {
		return nil, httperr.NewInsufficientMemory("alloc")
	}
	b := r.buf[r.cur : r.cur+n]
	r.cur += n
	return b, nil
}

// Write appends p to the region, advancing the cursor, failing if p does not
// fit in the remaining free span.
func (r *Region) Write(p []byte) error {
	dst, err := r.Alloc(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// WriteString is Write for a string, avoiding a caller-side []byte(s) copy
// where the compiler can elide it.
func (r *Region) WriteString(s string) error {
	dst, err := r.Alloc(len(s))
	if err != nil {
		return err
	}
	copy(dst, s)
	return nil
}

// Free returns the number of bytes still available between cur and end.
func (r *Region) Free() int { return r.end - r.cur }

// Len returns the number of bytes written so far (cur offset).
func (r *Region) Len() int { return r.cur }

// Cap returns the reserved-adjusted capacity (end offset).
func (r *Region) Cap() int { return r.end }

// Bytes returns the written portion, buf[:cur]. The returned slice aliases
// the caller's backing array; callers must not retain it past the region's
// owning exchange.
func (r *Region) Bytes() []byte { return r.buf[:r.cur] }

// Full returns the entire backing slice the Region was built from,
// regardless of cursor or reserved-tail narrowing.
func (r *Region) Full() []byte { return r.buf }

// FreeSpan returns the writable window [cur:end) for a recv() call to fill.
func (r *Region) FreeSpan() []byte { return r.buf[r.cur:r.end] }

// Advance moves the cursor forward by n bytes without copying — used when a
// parser callback reports that n bytes of an already-landed recv buffer now
// belong to the written region (e.g. header bytes the transport wrote
// directly into FreeSpan).
func (r *Region) Advance(n int) error {
	if r.end-r.cur < n {
		return httperr.NewInsufficientMemory("advance")
	}
	r.cur += n
	return nil
}

// Reset rewinds the region to empty over the same backing array, restoring
// end to the original full length (undoing any Reserve calls). Used when a
// response context is recycled for the next exchange on a persistent
// connection.
func (r *Region) Reset() {
	r.cur = 0
	r.end = len(r.buf)
}

// IsZero reports whether the Region was never initialized with a backing
// buffer — the Go equivalent of a null body-buffer pointer in the spec.
func (r *Region) IsZero() bool { return r.buf == nil }
