// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/rpx/src/resolver/filter.rs
//

package resolver

import (
	"context"
	"fmt"
	"strings"
)

// ErrNotSupported is returned by [FilterStage.Resolve] when a name
// matches none of the stage's allowed suffixes. It is a hard error, not
// "not found": only a [FallbackStage] wrapping this one absorbs it.
type ErrNotSupported struct {
	Name string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("resolver: service name %q is not supported", e.Name)
}

// FilterStage admits a request to its inner stage only if the name ends
// with one of a configured set of suffixes.
type FilterStage struct {
	Suffixes []string
	Inner    Stage
}

var _ Stage = FilterStage{}

// NewFilterStage returns a [FilterStage] wrapping inner. suffixes from
// multiple `filter` rules are unioned by the caller before construction.
func NewFilterStage(suffixes []string, inner Stage) FilterStage {
	return FilterStage{Suffixes: suffixes, Inner: inner}
}

// Resolve implements [Stage].
func (s FilterStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	for _, suffix := range s.Suffixes {
		if strings.HasSuffix(req.Name, suffix) {
			return s.Inner.Resolve(ctx, req)
		}
	}
	return Destination{}, false, ErrNotSupported{Name: req.Name}
}
