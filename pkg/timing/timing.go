// Package timing provides the phase-by-phase latency measurement the
// connection layer records for each dial and exchange: DNS lookup, TCP
// connect, TLS handshake and time-to-first-byte.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the latency of each phase of a connect-and-exchange.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer accumulates phase start/end marks for one connect-and-exchange.
type Timer struct {
	start     time.Time
	dnsStart  time.Time
	dnsEnd    time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer starts a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }

func (t *Timer) StartTCP() { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()   { t.tcpEnd = time.Now() }

func (t *Timer) StartTLS() { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()   { t.tlsEnd = time.Now() }

// StartTTFB marks when the caller starts waiting for the first response byte.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the first response byte actually arrived.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics computes the elapsed duration of every phase that was marked.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// ConnectionTime is the total time spent establishing the socket (DNS + TCP + TLS).
func (m Metrics) ConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}
