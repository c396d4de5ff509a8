// SPDX-License-Identifier: GPL-3.0-or-later

// Package resolver implements the composable stage chain that turns a
// parsed service name into a destination socket address: filter, constant
// override, rewrite, DNS, and fallback stages, wrapped outermost to
// innermost behind a bounded-admission [Pipeline].
package resolver

import (
	"context"
	"net/netip"
)

// Request is the input to a [Stage]: the service name a parser extracted
// (possibly empty) and the port the listener accepted the connection on.
type Request struct {
	Name string
	Port uint16
}

// Destination is a resolved upstream address.
type Destination struct {
	Addr netip.Addr
	Port uint16
}

// AddrPort returns d as a [netip.AddrPort].
func (d Destination) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(d.Addr, d.Port)
}

// Stage maps a [Request] to a [Destination]. Implementations wrap an
// inner [Stage] of the same shape; a stage is constructed once from its
// configuration and is safe for concurrent use thereafter.
//
// The bool result reports whether a destination was found: Destination's
// zero value is itself a reachable return in some stages (e.g. the DNS
// stage racing a client with no matching record), so "found" cannot be
// inferred from the zero value alone.
type Stage interface {
	Resolve(ctx context.Context, req Request) (Destination, bool, error)
}

// StageFunc adapts a function to the [Stage] interface.
type StageFunc func(ctx context.Context, req Request) (Destination, bool, error)

var _ Stage = StageFunc(nil)

func (f StageFunc) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	return f(ctx, req)
}
