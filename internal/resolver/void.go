// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/src/resolver/void.rs
//

package resolver

import "context"

// VoidStage is the leaf every composition terminates at: it never
// resolves anything.
type VoidStage struct{}

var _ Stage = VoidStage{}

// NewVoidStage returns a [VoidStage].
func NewVoidStage() VoidStage {
	return VoidStage{}
}

// Resolve implements [Stage].
func (VoidStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	return Destination{}, false, nil
}
