// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/src/lib.rs (parse_service_name caller
// contract) and original_source/rpx resolver stage composition order.
//

package resolver

import (
	"context"
	"net/netip"
)

// admissionCapacity bounds the number of concurrent in-flight pipeline
// calls. The 1025th caller blocks until one of the first 1024 completes;
// there is no load-shedding.
const admissionCapacity = 1024

// Pipeline is the composed, outermost-to-innermost stage chain:
//
//	fallback -> filter -> constant -> rewrite -> dns -> void
//
// It is immutable after construction and safe to call concurrently; the
// admission channel is the only shared mutable state on the call path.
type Pipeline struct {
	root      Stage
	admission chan struct{}
}

// NewPipeline wraps root (already composed by the caller via
// [Compose]) in the bounded-admission queue.
func NewPipeline(root Stage) *Pipeline {
	return &Pipeline{
		root:      root,
		admission: make(chan struct{}, admissionCapacity),
	}
}

// Call blocks for admission, invokes the composed stage chain, and
// enforces the port-0 invariant: a stage that would produce port 0 is
// treated as unresolved.
func (p *Pipeline) Call(ctx context.Context, req Request) (Destination, bool, error) {
	select {
	case p.admission <- struct{}{}:
	case <-ctx.Done():
		return Destination{}, false, ctx.Err()
	}
	defer func() { <-p.admission }()

	dest, found, err := p.root.Resolve(ctx, req)
	if err != nil {
		return Destination{}, false, err
	}
	if !found || dest.Port == 0 {
		return Destination{}, false, nil
	}
	return dest, true, nil
}

// Build lists the configured stages that [Compose] assembles in the fixed
// order spec.md §4.C mandates. A nil pointer or empty slice leaves that
// stage out, so an unconfigured stage kind is simply absent rather than a
// no-op wrapper. Stages are applied outermost first:
//
//	fallback(filter(constant(rewrite(dns(void)))))
type Build struct {
	Fallback *Destination
	Filter   []string
	Constant *ConstantConfig
	Rewrite  []RewriteRule
	DNS      []DNSClient
}

// ConstantConfig carries the accumulated ip/port rules for [NewConstantStage].
type ConstantConfig struct {
	IPs         map[string][]netip.Addr
	Ports       []PortRule
	OnDuplicate func(name string, port uint16)
}

// Compose builds the full stage chain per b, in the fixed order.
func Compose(b Build) Stage {
	var stage Stage = NewVoidStage()

	if len(b.DNS) > 0 {
		stage = NewDNSStage(b.DNS, stage)
	}
	if len(b.Rewrite) > 0 {
		stage = NewRewriteStage(b.Rewrite, stage)
	}
	if b.Constant != nil {
		stage = NewConstantStage(b.Constant.IPs, b.Constant.Ports, b.Constant.OnDuplicate, stage)
	}
	if len(b.Filter) > 0 {
		stage = NewFilterStage(b.Filter, stage)
	}
	if b.Fallback != nil {
		stage = NewFallbackStage(*b.Fallback, stage)
	}
	return stage
}
