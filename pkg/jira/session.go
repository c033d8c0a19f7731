package jira

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Timeouts are the three tiers applied to every request.
type Timeouts struct {
	// Connect bounds TCP dial and TLS handshake.
	Connect time.Duration
	// Read bounds the wait for response headers once the request is sent.
	Read time.Duration
	// Request bounds a whole attempt, body included.
	Request time.Duration
}

// DefaultTimeouts returns 10s connect, 30s read and 60s per request.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Read:    30 * time.Second,
		Request: 60 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.Request <= 0 {
		t.Request = d.Request
	}
	return t
}

// session owns the pooled connections shared by every call of a Client.
// It is safe for concurrent use; recycle swaps the pool under a write lock
// while in-flight requests finish on the old one.
type session struct {
	mu       sync.RWMutex
	client   *http.Client
	timeouts Timeouts
	recycles atomic.Int64
}

func newSession(t Timeouts) *session {
	return &session{
		client:   &http.Client{Transport: newTransport(t)},
		timeouts: t,
	}
}

func newTransport(t Timeouts) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func (s *session) do(req *http.Request) (*http.Response, error) {
	s.mu.RLock()
	hc := s.client
	s.mu.RUnlock()
	return hc.Do(req)
}

// recycle drops idle connections and replaces the transport.
func (s *session) recycle() {
	s.mu.Lock()
	old := s.client
	s.client = &http.Client{Transport: newTransport(s.timeouts)}
	s.mu.Unlock()

	old.CloseIdleConnections()
	s.recycles.Add(1)
}

func (s *session) close() {
	s.mu.RLock()
	hc := s.client
	s.mu.RUnlock()
	hc.CloseIdleConnections()
}
