// Package router implements the Router (spec.md §4.6): the listening socket,
// the pre-handshake Wire Decoder dispatch, the live-session registry, and
// the connection ceiling.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"pgfrontdoor/internal/session"
	"pgfrontdoor/pkg/logger"
	"pgfrontdoor/pkg/pgwire"
)

// defaultMaxStartupMessageSize bounds the pre-handshake read buffer when the
// caller does not configure one (spec.md §4.1 "configurable ceiling").
const defaultMaxStartupMessageSize = 1 << 20 // 1 MiB

// ResourceLimit is logged at warn level (and the client closed) when the
// connection ceiling is reached (spec.md §7 ResourceLimit).
type ResourceLimit struct {
	Limit int
}

func (e *ResourceLimit) Error() string {
	return fmt.Sprintf("router: connection limit of %d reached", e.Limit)
}

// Dialer is asked to open the backend connection for a newly provisioned
// session's database.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Options configures a Router.
type Options struct {
	Host                  string
	Port                  int
	MaxConnections        int // 0 means unbounded
	MaxStartupMessageSize int // 0 means defaultMaxStartupMessageSize

	Provisioner session.Provisioner
	Dialer      Dialer
}

// Router owns the listening socket and the set of live sessions.
type Router struct {
	opts     Options
	listener net.Listener

	mu       sync.Mutex
	live     map[net.Conn]struct{}
	stopping bool
	wg       sync.WaitGroup
}

// New allocates a Router; it does not listen until Start is called.
func New(opts Options) *Router {
	if opts.MaxStartupMessageSize == 0 {
		opts.MaxStartupMessageSize = defaultMaxStartupMessageSize
	}
	return &Router{opts: opts, live: make(map[net.Conn]struct{})}
}

// Start binds the listening socket and begins accepting connections in the
// background. It returns once the socket is bound.
func (r *Router) Start() error {
	addr := net.JoinHostPort(r.opts.Host, portString(r.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("router: listen on %s: %w", addr, err)
	}
	r.listener = ln
	go r.acceptLoop()
	logger.Info("router: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listener address. Valid only after Start succeeds.
func (r *Router) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Router) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			r.mu.Lock()
			stopping := r.stopping
			r.mu.Unlock()
			if stopping {
				return
			}
			logger.Error("router: accept: %v", err)
			continue
		}

		if r.atCapacity() {
			logger.Warn("router: %v", &ResourceLimit{Limit: r.opts.MaxConnections})
			conn.Close()
			continue
		}

		r.wg.Add(1)
		go r.handle(conn)
	}
}

func (r *Router) atCapacity() bool {
	if r.opts.MaxConnections <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live) >= r.opts.MaxConnections
}

// handle runs the pre-handshake protocol for one accepted connection,
// handing off to a session.Session once a StandardStartup is decoded
// (spec.md §4.6 steps 1-5).
func (r *Router) handle(conn net.Conn) {
	defer r.wg.Done()
	r.register(conn)
	defer r.unregister(conn)

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		desc, consumed, err := pgwire.Decode(buf, r.opts.MaxStartupMessageSize)
		if err == nil {
			buf = buf[consumed:]
			switch desc.Kind {
			case pgwire.SSLRequest, pgwire.GSSAPIRequest:
				if _, err := conn.Write([]byte{'N'}); err != nil {
					conn.Close()
					return
				}
				continue // stay in pre-handshake mode on the same connection
			case pgwire.StandardStartup:
				r.runSession(prefixedConn(conn, buf), desc)
				return
			default: // CancelRequest, UnsupportedVersion
				conn.Close()
				return
			}
		}

		var protoErr *pgwire.ProtocolError
		if errors.As(err, &protoErr) {
			logger.Warn("router: %v", protoErr)
			conn.Close()
			return
		}
		// err is pgwire.ErrIncomplete: read more.

		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debug("router: read during handshake: %v", readErr)
			}
			conn.Close()
			return
		}
	}
}

func (r *Router) runSession(conn net.Conn, desc *pgwire.Descriptor) {
	s := session.New(conn, r.opts.Dialer, r.opts.Provisioner, desc.Database, desc.Raw)
	err := s.Run(context.Background())
	session.LogOutcome(desc.Database, err)
}

func (r *Router) register(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[conn] = struct{}{}
}

func (r *Router) unregister(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, conn)
}

// ActiveSessions returns the current number of live sessions, for
// observability (spec.md §4.6 "Expose the size").
func (r *Router) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Stop closes the listener and every live session, then waits for their
// handlers to return. Stop is idempotent.
func (r *Router) Stop() error {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	conns := make([]net.Conn, 0, len(r.live))
	for c := range r.live {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	if r.listener != nil {
		if err := r.listener.Close(); err != nil {
			logger.Error("router: close listener: %v", err)
		}
	}
	for _, c := range conns {
		c.Close()
	}
	r.wg.Wait()
	return nil
}

func portString(port int) string {
	return fmt.Sprintf("%d", port)
}

// withPrefix wraps a net.Conn so that any bytes already read past the
// StandardStartup message (a client that pipelines its first query right
// behind the handshake) are served before falling through to the
// underlying connection.
type withPrefix struct {
	net.Conn
	prefix []byte
}

// prefixedConn returns conn unchanged when there are no leftover bytes, or a
// wrapper that replays leftover first, otherwise.
func prefixedConn(conn net.Conn, leftover []byte) net.Conn {
	if len(leftover) == 0 {
		return conn
	}
	buf := make([]byte, len(leftover))
	copy(buf, leftover)
	return &withPrefix{Conn: conn, prefix: buf}
}

func (c *withPrefix) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
