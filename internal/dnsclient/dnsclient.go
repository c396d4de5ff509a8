// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: _examples/other_examples/33a27345_noisysockets-getresolvd__dns_resolver.go.go
// (dns.Client.Exchange usage pattern) and original_source/rpx/src/resolver/dns/service.rs
// (SRV-then-host resolution contract).

// Package dnsclient implements [resolver.DNSClient] against
// github.com/miekg/dns: plain UDP A/AAAA/SRV queries to one configured
// upstream server, honoring a per-client IP-family [Strategy].
package dnsclient

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Strategy selects which record types [Client.LookupHost] queries, and in
// what order, when a name resolves to both A and AAAA records.
type Strategy int

const (
	// IPv6Only queries AAAA only. This is the config schema's default.
	IPv6Only Strategy = iota
	IPv4Only
	// IPv4AndIPv6 queries A, then AAAA, and merges the results.
	IPv4AndIPv6
	// IPv4ThenIPv6 queries A first, only trying AAAA if A is empty.
	IPv4ThenIPv6
	// IPv6ThenIPv4 queries AAAA first, only trying A if AAAA is empty.
	IPv6ThenIPv4
)

// ParseStrategy parses the config schema's strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "ipv6_only":
		return IPv6Only, nil
	case "ipv4_only":
		return IPv4Only, nil
	case "ipv4_and_ipv6":
		return IPv4AndIPv6, nil
	case "ipv4_then_ipv6":
		return IPv4ThenIPv6, nil
	case "ipv6_then_ipv4":
		return IPv6ThenIPv4, nil
	default:
		return 0, fmt.Errorf("dnsclient: unknown strategy %q", s)
	}
}

// Exchanger performs one DNS question/answer round trip. *dns.Client
// satisfies this; tests substitute a fake.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, int64, error)
}

// Client is one upstream DNS server, implementing [resolver.DNSClient].
// A Client is immutable after construction and safe for concurrent use.
type Client struct {
	Server      netip.AddrPort
	Strategy    Strategy
	SRVSuffixes []string
	Exchanger   Exchanger
}

// New returns a [Client] querying server over UDP with a fresh
// [dns.Client] using its built-in default timeout.
func New(server netip.AddrPort, strategy Strategy, srvSuffixes []string) *Client {
	return &Client{
		Server:      server,
		Strategy:    strategy,
		SRVSuffixes: srvSuffixes,
		Exchanger:   &dns.Client{},
	}
}

// ShouldLookupSRV implements resolver.DNSClient.
func (c *Client) ShouldLookupSRV(name string) bool {
	fqdn := dns.Fqdn(name)
	for _, suffix := range c.SRVSuffixes {
		if strings.HasSuffix(fqdn, dns.Fqdn(suffix)) {
			return true
		}
	}
	return false
}

// LookupSRV implements resolver.DNSClient.
func (c *Client) LookupSRV(ctx context.Context, name string) (string, uint16, bool, error) {
	reply, err := c.exchange(ctx, name, dns.TypeSRV)
	if err != nil {
		return "", 0, false, err
	}
	for _, rr := range reply.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			return strings.TrimSuffix(srv.Target, "."), srv.Port, true, nil
		}
	}
	return "", 0, false, nil
}

// LookupHost implements resolver.DNSClient.
func (c *Client) LookupHost(ctx context.Context, name string) ([]netip.Addr, bool, error) {
	switch c.Strategy {
	case IPv4Only:
		return c.lookupA(ctx, name)
	case IPv4AndIPv6:
		return c.lookupBoth(ctx, name)
	case IPv4ThenIPv6:
		if addrs, found, err := c.lookupA(ctx, name); found || err != nil {
			return addrs, found, err
		}
		return c.lookupAAAA(ctx, name)
	case IPv6ThenIPv4:
		if addrs, found, err := c.lookupAAAA(ctx, name); found || err != nil {
			return addrs, found, err
		}
		return c.lookupA(ctx, name)
	default: // IPv6Only
		return c.lookupAAAA(ctx, name)
	}
}

func (c *Client) lookupBoth(ctx context.Context, name string) ([]netip.Addr, bool, error) {
	v4, _, errV4 := c.lookupA(ctx, name)
	v6, _, errV6 := c.lookupAAAA(ctx, name)
	if errV4 != nil && errV6 != nil {
		return nil, false, errV4
	}
	addrs := append(v4, v6...)
	return addrs, len(addrs) > 0, nil
}

func (c *Client) lookupA(ctx context.Context, name string) ([]netip.Addr, bool, error) {
	return c.lookupAddrs(ctx, name, dns.TypeA)
}

func (c *Client) lookupAAAA(ctx context.Context, name string) ([]netip.Addr, bool, error) {
	return c.lookupAddrs(ctx, name, dns.TypeAAAA)
}

func (c *Client) lookupAddrs(ctx context.Context, name string, qtype uint16) ([]netip.Addr, bool, error) {
	reply, err := c.exchange(ctx, name, qtype)
	if err != nil {
		return nil, false, err
	}
	var addrs []netip.Addr
	for _, rr := range reply.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				addrs = append(addrs, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs, len(addrs) > 0, nil
}

func (c *Client) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	reply, _, err := c.Exchanger.ExchangeContext(ctx, msg, c.Server.String())
	if err != nil {
		return nil, err
	}
	if reply.Rcode != dns.RcodeSuccess && reply.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("dnsclient: server %s returned %s for %s",
			c.Server, dns.RcodeToString[reply.Rcode], name)
	}
	return reply, nil
}
