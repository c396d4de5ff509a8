// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/ormos/src/config/listener.rs (per-listener
// parser set) and spec.md §4.E's supervisor contract.

// Package listener implements the supervisor that binds every configured
// listener, accepts connections, and fans each one out to a forwarder.
package listener

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/lainera/rpx/internal/forwarder"
	"github.com/lainera/rpx/internal/parser"
)

// Spec is one listener's configuration: the address to bind and the
// parser kinds raced on each of its connections.
type Spec struct {
	Address string
	Parsers []parser.Kind
}

// Supervisor binds and runs a set of listeners, each accepting
// connections and fanning them out to a fresh forwarder per connection.
type Supervisor struct {
	specs    []Spec
	listener func(network, address string) (net.Listener, error)
	newFwd   func(kinds []parser.Kind) *forwarder.Forwarder
	logger   *slog.Logger

	listeners []net.Listener
}

// New returns a [*Supervisor] for specs. newFwd constructs a forwarder
// scoped to one listener's parser kinds (the forwarder itself carries
// the shared resolver pipeline and dial configuration).
func New(specs []Spec, newFwd func(kinds []parser.Kind) *forwarder.Forwarder, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		specs:    specs,
		listener: net.Listen,
		newFwd:   newFwd,
		logger:   logger,
	}
}

// Start binds every listener in order, returning the first bind error
// encountered (and closing any listeners already bound). It returns only
// after every listener has successfully bound, per spec.md §4.E. Once
// bound, Start spawns one accept-loop goroutine per listener and returns;
// fatal accept errors are reported on the returned channel, one entry
// per listener that stops accepting.
func (s *Supervisor) Start(ctx context.Context) (<-chan error, error) {
	for _, spec := range s.specs {
		ln, err := s.listener("tcp", spec.Address)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("listener: bind %s: %w", spec.Address, err)
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info("listenerBound", "address", spec.Address)
	}

	fatal := make(chan error, len(s.listeners))
	for i, ln := range s.listeners {
		go s.acceptLoop(ctx, ln, s.specs[i].Parsers, fatal)
	}
	return fatal, nil
}

// Addrs returns the bound address of every listener, in configuration
// order. Only valid after a successful Start.
func (s *Supervisor) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

func (s *Supervisor) closeAll() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}

func (s *Supervisor) acceptLoop(ctx context.Context, ln net.Listener, kinds []parser.Kind, fatal chan<- error) {
	fwd := s.newFwd(kinds)
	localPort := uint16(0)
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		localPort = uint16(tcpAddr.Port)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Info("acceptFailed", "address", ln.Addr().String(), "err", err)
			fatal <- fmt.Errorf("listener: accept on %s: %w", ln.Addr(), err)
			return
		}
		go fwd.Handle(ctx, conn, localPort)
	}
}
