// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/src/resolver/fallback.rs
//

package resolver

import "context"

// FallbackStage absorbs both "not found" and any error from its inner
// stage and substitutes a configured default destination. This is the
// resolved policy for spec.md's Open Question 2: a filter rejection
// (propagated as an error by [FilterStage]) is converted into the
// default address exactly like an unresolved DNS lookup would be.
//
// A fallback stage never errors and is always ready.
type FallbackStage struct {
	Default Destination
	Inner   Stage
}

var _ Stage = FallbackStage{}

// NewFallbackStage returns a [FallbackStage] wrapping inner.
func NewFallbackStage(def Destination, inner Stage) FallbackStage {
	return FallbackStage{Default: def, Inner: inner}
}

// Resolve implements [Stage].
func (s FallbackStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	dest, found, err := s.Inner.Resolve(ctx, req)
	if err != nil || !found {
		return s.Default, true, nil
	}
	return dest, true, nil
}
