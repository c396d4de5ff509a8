// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/src/lib.rs (forward, parse_service_name).
// Connect, context-bound cancellation, and I/O observation are implemented
// directly against this package's own net.Conn wrappers: a reusable
// composable-Func abstraction isn't worth it for a single fixed dial
// pipeline.

// Package forwarder implements the per-connection coordinator: read-ahead
// with competing parsers, resolver pipeline call, upstream dial, and
// bidirectional splice.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lainera/rpx/internal/errclass"
	"github.com/lainera/rpx/internal/parser"
	"github.com/lainera/rpx/internal/resolver"
)

// readAheadTimeout bounds steps (a)-(c): read-ahead, resolution, and the
// dial decision. It does not apply to the splice phase.
const readAheadTimeout = 30 * time.Second

// initialBufferCapacity is the read-ahead buffer's starting size.
const initialBufferCapacity = 256

// readChunkSize is how much is read from the client socket per iteration
// of the read-ahead loop.
const readChunkSize = 4096

// Dialer abstracts *net.Dialer so tests can substitute a fake.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Forwarder coordinates one TCP listener's accepted connections: parse,
// resolve, dial, splice. A Forwarder is immutable after construction and
// safe for concurrent use — one call to [Forwarder.Handle] per connection.
type Forwarder struct {
	// ParserKinds is the set of parsers raced per connection, carried
	// from the owning listener's configuration.
	ParserKinds []parser.Kind

	// Pipeline resolves a parsed service name to a destination.
	Pipeline *resolver.Pipeline

	// Dialer opens the upstream TCP connection.
	Dialer Dialer

	// Logger receives per-connection lifecycle events.
	Logger *slog.Logger
}

// New builds a [*Forwarder]. A nil dialer defaults to [*net.Dialer]; a nil
// logger discards all output.
func New(kinds []parser.Kind, pipeline *resolver.Pipeline, dialer Dialer, logger *slog.Logger) *Forwarder {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Forwarder{
		ParserKinds: kinds,
		Pipeline:    pipeline,
		Dialer:      dialer,
		Logger:      logger,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Handle forwards one accepted connection. It always closes conn before
// returning, whether forwarding succeeded or was dropped. localPort is
// the port the listener accepted the connection on.
func (f *Forwarder) Handle(ctx context.Context, conn net.Conn, localPort uint16) {
	defer conn.Close()

	logger := f.Logger.With(slog.String("span", newSpanID()))

	phaseCtx, cancel := context.WithTimeout(ctx, readAheadTimeout)
	defer cancel()

	buf, name, ok := f.readAhead(phaseCtx, conn, logger)
	if !ok {
		return
	}
	conn.SetReadDeadline(time.Time{})

	req := resolver.Request{Name: name, Port: localPort}
	dest, found, err := f.Pipeline.Call(phaseCtx, req)
	if err != nil {
		logger.Info("resolveFailed", slog.String("name", name), slog.Any("err", err))
		return
	}
	if !found {
		logger.Info("resolveDropped", slog.String("name", name))
		return
	}
	logger.Info("resolveDone", slog.String("name", name), slog.String("dest", dest.AddrPort().String()))

	upstream, err := f.dial(ctx, dest.AddrPort(), logger)
	if err != nil {
		logger.Info("dialFailed", slog.String("dest", dest.AddrPort().String()), slog.Any("err", err))
		return
	}
	defer upstream.Close()

	if buf.Len() > 0 {
		if _, err := upstream.Write(buf.Bytes()); err != nil {
			logger.Info("prefixWriteFailed", slog.Any("err", err))
			return
		}
	}

	splice(conn, upstream, logger)
}

// newSpanID returns a UUIDv7 identifying one connection's forwarding
// attempt, so its log lines can be correlated. Panics if the system
// random number generator fails, which should only happen under
// extraordinary circumstances.
func newSpanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id.String()
}

// dial opens the upstream connection, binds its lifetime to ctx so it is
// closed promptly on cancellation, and wraps it so I/O is logged.
func (f *Forwarder) dial(ctx context.Context, addr netip.AddrPort, logger *slog.Logger) (net.Conn, error) {
	t0 := time.Now()
	deadline, _ := ctx.Deadline()
	logger.Info("connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", addr.String()),
		slog.Time("t", t0))

	conn, err := f.Dialer.DialContext(ctx, "tcp", addr.String())

	logger.Info("connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", errclass.Classify(err)),
		slog.String("localAddr", safeLocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", addr.String()),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()))
	if err != nil {
		return nil, err
	}

	conn = watchCancellation(ctx, conn)
	conn = observe(conn, logger)
	return conn, nil
}

// watchCancellation closes conn when ctx is done, so blocking I/O fails
// promptly on shutdown instead of waiting out a per-operation timeout.
// Closing the returned connection unregisters the watcher.
func watchCancellation(ctx context.Context, conn net.Conn) net.Conn {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &cancelOnDoneConn{Conn: conn, stop: stop}
}

type cancelOnDoneConn struct {
	net.Conn
	stop func() bool
}

func (c *cancelOnDoneConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// observe wraps conn so every read, write, deadline change and close is
// logged, matching the level convention used throughout this package:
// lifecycle events at Info, per-I/O events at Debug.
func observe(conn net.Conn, logger *slog.Logger) net.Conn {
	return &observedConn{
		Conn:     conn,
		logger:   logger,
		laddr:    safeLocalAddr(conn),
		raddr:    safeRemoteAddr(conn),
		protocol: safeNetwork(conn),
	}
}

type observedConn struct {
	net.Conn
	logger    *slog.Logger
	laddr     string
	raddr     string
	protocol  string
	closeOnce sync.Once
}

func (c *observedConn) fields(extra ...any) []any {
	return append([]any{
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
	}, extra...)
}

func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeOnce.Do(func() {
		t0 := time.Now()
		c.logger.Info("closeStart", c.fields(slog.Time("t", t0))...)
		err = c.Conn.Close()
		c.logger.Info("closeDone", c.fields(
			slog.Any("err", err),
			slog.String("errClass", errclass.Classify(err)),
			slog.Time("t0", t0),
			slog.Time("t", time.Now()))...)
	})
	return
}

func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := time.Now()
	c.logger.Debug("readStart", c.fields(slog.Int("ioBufferSize", len(buf)), slog.Time("t", t0))...)
	n, err := c.Conn.Read(buf)
	c.logger.Debug("readDone", c.fields(
		slog.Int("ioBytesCount", n),
		slog.Any("err", err),
		slog.String("errClass", errclass.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()))...)
	return n, err
}

func (c *observedConn) Write(data []byte) (int, error) {
	t0 := time.Now()
	c.logger.Debug("writeStart", c.fields(slog.Int("ioBufferSize", len(data)), slog.Time("t", t0))...)
	n, err := c.Conn.Write(data)
	c.logger.Debug("writeDone", c.fields(
		slog.Int("ioBytesCount", n),
		slog.Any("err", err),
		slog.String("errClass", errclass.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()))...)
	return n, err
}

func (c *observedConn) SetDeadline(t time.Time) error {
	c.logger.Debug("setDeadline", c.fields(slog.Time("deadline", t), slog.Time("t", time.Now()))...)
	return c.Conn.SetDeadline(t)
}

func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.logger.Debug("setReadDeadline", c.fields(slog.Time("deadline", t), slog.Time("t", time.Now()))...)
	return c.Conn.SetReadDeadline(t)
}

func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.logger.Debug("setWriteDeadline", c.fields(slog.Time("deadline", t), slog.Time("t", time.Now()))...)
	return c.Conn.SetWriteDeadline(t)
}

// safeLocalAddr returns conn.LocalAddr().String(), or "" if conn or its
// local address is nil. Structured log fields must never crash on a
// half-constructed or already-closed connection.
func safeLocalAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func safeRemoteAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func safeNetwork(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	if addr := conn.LocalAddr(); addr != nil {
		return addr.Network()
	}
	return ""
}

// readAhead implements spec step (a)/(b)'s read side: it grows buf one
// chunk at a time, offering the full accumulated buffer to every still-
// active parser after each read. It returns the accumulated prefix bytes
// and the resolved name (empty if no parser succeeded), and ok=false if
// the deadline expired or an I/O error occurred — in which case the
// resolver must not be called.
func (f *Forwarder) readAhead(ctx context.Context, conn net.Conn, logger *slog.Logger) (*bytes.Buffer, string, bool) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(readAheadTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, "", false
	}

	buf := bytes.NewBuffer(make([]byte, 0, initialBufferCapacity))
	parsers := make([]parser.Parser, len(f.ParserKinds))
	for i, kind := range f.ParserKinds {
		parsers[i] = parser.New(kind)
	}
	active := make([]bool, len(parsers))
	for i := range active {
		active[i] = true
	}
	remaining := len(active)

	chunk := make([]byte, readChunkSize)
	for {
		if remaining == 0 {
			logger.Info("readAheadDone", slog.String("name", ""))
			return buf, "", true
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				logger.Debug("readAheadTimeout")
			} else {
				logger.Info("readAheadError", slog.Any("err", err))
			}
			return nil, "", false
		}

		for i := range parsers {
			if !active[i] {
				continue
			}
			result := parsers[i].Parse(buf.Bytes())
			switch result.Status {
			case parser.Ready:
				logger.Info("readAheadDone", slog.String("name", result.Name))
				return buf, result.Name, true
			case parser.Failed:
				active[i] = false
				remaining--
			case parser.NeedMore:
				// keep waiting
			}
		}
	}
}

// splice copies in both directions until either side reaches EOF,
// propagating a half-close to the other side; then waits for both
// directions to finish. Byte counts are logged per direction.
func splice(client, upstream net.Conn, logger *slog.Logger) {
	done := make(chan struct{}, 2)

	go func() {
		n, err := io.Copy(upstream, client)
		closeWrite(upstream)
		logger.Info("spliceClientToUpstream", slog.Int64("bytes", n), slog.Any("err", err))
		done <- struct{}{}
	}()
	go func() {
		n, err := io.Copy(client, upstream)
		closeWrite(client)
		logger.Info("spliceUpstreamToClient", slog.Int64("bytes", n), slog.Any("err", err))
		done <- struct{}{}
	}()

	<-done
	<-done
}

// closeWriter is implemented by *net.TCPConn. closeWrite unwraps this
// package's own connection wrappers to reach it.
type closeWriter interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	for {
		if cw, ok := conn.(closeWriter); ok {
			cw.CloseWrite()
			return
		}
		switch c := conn.(type) {
		case *observedConn:
			conn = c.Conn
		case *cancelOnDoneConn:
			conn = c.Conn
		default:
			return
		}
	}
}
