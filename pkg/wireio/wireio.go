// Package wireio adapts a pkg/transport.Conn's raw Send/Recv into the
// retry-until-complete and classify-into-httperr semantics the rest of the
// client expects: SendAll loops until every byte is written or a fatal
// error occurs, RecvChunk maps a single receive attempt into one of
// NetworkError, TimeoutError or a clean io.EOF-as-ConnectionError.
package wireio

import (
	"errors"
	"io"

	"github.com/embedhttp/httpc/pkg/httperr"
)

// Sender is the minimal write side of pkg/transport.Conn.
type Sender interface {
	Send(p []byte) (int, error)
}

// Receiver is the minimal read side of pkg/transport.Conn.
type Receiver interface {
	Recv(p []byte) (int, error)
}

// SendAll writes all of p to s, looping over short writes. It returns a
// *httperr.Error classified NetworkError on any failure.
func SendAll(s Sender, p []byte) error {
	for len(p) > 0 {
		n, err := s.Send(p)
		if n > 0 {
			p = p[n:]
		}
		if err != nil {
			return httperr.NewNetworkError("send", err)
		}
		if n == 0 {
			return httperr.NewNetworkError("send", errors.New("zero-length write"))
		}
	}
	return nil
}

// RecvChunk performs a single receive attempt into buf, returning the
// number of bytes read. A zero-byte, nil-error result (a recv with nothing
// ready) surfaces as TimeoutError, a clean peer close as ConnectionError,
// and any other I/O failure as NetworkError.
func RecvChunk(r Receiver, buf []byte) (int, error) {
	n, err := r.Recv(buf)
	if err == nil {
		if n == 0 {
			return 0, httperr.NewTimeoutError("recv")
		}
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return n, httperr.New(httperr.ConnectionError, "recv", "peer closed the connection")
	}
	return n, httperr.NewNetworkError("recv", err)
}
