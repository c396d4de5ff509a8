// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/rpx/src/resolver/dns/mod.rs,
// original_source/rpx/src/resolver/dns/service.rs
//

package resolver

import (
	"context"
	"math/rand/v2"
	"net/netip"
)

// DNSClient is one upstream DNS server configured for the [DNSStage],
// implemented by internal/dnsclient against github.com/miekg/dns.
type DNSClient interface {
	// ShouldLookupSRV reports whether name matches this client's
	// SRV-eligible suffix list.
	ShouldLookupSRV(name string) bool

	// LookupSRV resolves an SRV record for name, returning the target
	// host and port. found is false if the answer was empty.
	LookupSRV(ctx context.Context, name string) (target string, port uint16, found bool, err error)

	// LookupHost resolves A/AAAA records for name per this client's IP
	// family strategy. found is false if the answer was empty.
	LookupHost(ctx context.Context, name string) (addrs []netip.Addr, found bool, err error)
}

// DNSStage races one or more [DNSClient]s to resolve a name, falling
// through to its inner stage if every client comes back empty or errors.
type DNSStage struct {
	Clients []DNSClient
	Inner   Stage
}

var _ Stage = DNSStage{}

// NewDNSStage returns a [DNSStage] wrapping inner.
func NewDNSStage(clients []DNSClient, inner Stage) DNSStage {
	return DNSStage{Clients: clients, Inner: inner}
}

// Resolve implements [Stage].
func (s DNSStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	if dest, found := s.resolveSRV(ctx, req.Name); found {
		return dest, true, nil
	}
	if dest, found := s.resolveHost(ctx, req.Name, req.Port); found {
		return dest, true, nil
	}
	return s.Inner.Resolve(ctx, req)
}

type srvResult struct {
	target string
	port   uint16
}

// resolveSRV races every SRV-eligible client's SRV lookup, then resolves
// the winning target's address via the same client.
func (s DNSStage) resolveSRV(ctx context.Context, name string) (Destination, bool) {
	eligible := make([]DNSClient, 0, len(s.Clients))
	for _, c := range s.Clients {
		if c.ShouldLookupSRV(name) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Destination{}, false
	}

	winner, result, ok := raceClients(ctx, eligible, func(ctx context.Context, c DNSClient) (srvResult, bool, error) {
		target, port, found, err := c.LookupSRV(ctx, name)
		return srvResult{target: target, port: port}, found, err
	})
	if !ok {
		return Destination{}, false
	}

	addrs, found, err := winner.LookupHost(ctx, result.target)
	if err != nil || !found || len(addrs) == 0 {
		return Destination{}, false
	}
	return Destination{Addr: pickAddr(addrs), Port: result.port}, true
}

// resolveHost races every client's A/AAAA lookup for name at port.
func (s DNSStage) resolveHost(ctx context.Context, name string, port uint16) (Destination, bool) {
	_, addrs, ok := raceClients(ctx, s.Clients, func(ctx context.Context, c DNSClient) ([]netip.Addr, bool, error) {
		return c.LookupHost(ctx, name)
	})
	if !ok || len(addrs) == 0 {
		return Destination{}, false
	}
	return Destination{Addr: pickAddr(addrs), Port: port}, true
}

// raceResult carries one client's outcome back to the collector.
type raceResult[T any] struct {
	client DNSClient
	value  T
	found  bool
}

// raceClients invokes lookup against every client concurrently and
// returns the first client whose lookup finds a non-empty answer. It
// blocks until either a winner is found or every client has reported in.
func raceClients[T any](
	ctx context.Context,
	clients []DNSClient,
	lookup func(ctx context.Context, c DNSClient) (T, bool, error),
) (DNSClient, T, bool) {
	var zero T
	if len(clients) == 0 {
		return nil, zero, false
	}

	results := make(chan raceResult[T], len(clients))
	for _, c := range clients {
		go func(c DNSClient) {
			value, found, err := lookup(ctx, c)
			results <- raceResult[T]{client: c, value: value, found: found && err == nil}
		}(c)
	}

	for range clients {
		r := <-results
		if r.found {
			return r.client, r.value, true
		}
	}
	return nil, zero, false
}

func pickAddr(addrs []netip.Addr) netip.Addr {
	if len(addrs) == 1 {
		return addrs[0]
	}
	return addrs[rand.IntN(len(addrs))]
}
