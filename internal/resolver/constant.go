// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/rpx/src/resolver/constant/mod.rs,
// original_source/rpx/src/resolver/constant/port_binding.rs
//

package resolver

import (
	"context"
	"math/rand/v2"
	"net/netip"
)

// PortRule is one `(name, from_port) -> to_port` configuration entry.
type PortRule struct {
	Name string
	From uint16
	To   uint16
}

// portKey identifies a (name, from-port) port mapping.
type portKey struct {
	Name string
	From uint16
}

// ConstantStage resolves a name to one of a configured list of IPs
// (picked uniformly at random, short-circuiting the inner stage), and/or
// remaps the request port. Both tables are immutable after construction.
type ConstantStage struct {
	IPs   map[string][]netip.Addr
	Ports map[portKey]uint16
	Inner Stage
}

var _ Stage = &ConstantStage{}

// NewConstantStage builds a [ConstantStage] from accumulated ip/port
// rules. Duplicate (name, from) port bindings are accepted; the last
// occurrence wins and onDuplicate, if non-nil, is invoked to log it —
// mirroring the original's warn! on the second occurrence.
func NewConstantStage(
	ipRules map[string][]netip.Addr,
	portRules []PortRule,
	onDuplicate func(name string, port uint16),
	inner Stage,
) *ConstantStage {
	ports := make(map[portKey]uint16, len(portRules))
	for _, rule := range portRules {
		key := portKey{Name: rule.Name, From: rule.From}
		if _, exists := ports[key]; exists && onDuplicate != nil {
			onDuplicate(rule.Name, rule.From)
		}
		ports[key] = rule.To
	}
	return &ConstantStage{IPs: ipRules, Ports: ports, Inner: inner}
}

// Resolve implements [Stage].
func (s *ConstantStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	port := s.effectivePort(req.Name, req.Port)

	if ips := s.IPs[req.Name]; len(ips) > 0 {
		ip := ips[rand.IntN(len(ips))]
		return Destination{Addr: ip, Port: port}, true, nil
	}

	return s.Inner.Resolve(ctx, Request{Name: req.Name, Port: port})
}

func (s *ConstantStage) effectivePort(name string, port uint16) uint16 {
	if to, ok := s.Ports[portKey{Name: name, From: port}]; ok {
		return to
	}
	return port
}
