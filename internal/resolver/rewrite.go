// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/rpx/src/resolver/rewrite.rs
//

package resolver

import (
	"context"
	"regexp"
)

// RewriteRule rewrites a name matching Matcher to Replacer, following
// [*regexp.Regexp.ReplaceAllString] substitution syntax ($1, $name, ...).
type RewriteRule struct {
	Matcher  *regexp.Regexp
	Replacer string
}

// RewriteStage applies the first matching rule in an ordered list;
// unmatched names pass through unchanged. Always forwards to inner.
type RewriteStage struct {
	Rules []RewriteRule
	Inner Stage
}

var _ Stage = RewriteStage{}

// NewRewriteStage returns a [RewriteStage] wrapping inner.
func NewRewriteStage(rules []RewriteRule, inner Stage) RewriteStage {
	return RewriteStage{Rules: rules, Inner: inner}
}

// Resolve implements [Stage].
func (s RewriteStage) Resolve(ctx context.Context, req Request) (Destination, bool, error) {
	name := req.Name
	for _, rule := range s.Rules {
		if rule.Matcher.MatchString(name) {
			name = rule.Matcher.ReplaceAllString(name, rule.Replacer)
			break
		}
	}
	return s.Inner.Resolve(ctx, Request{Name: name, Port: req.Port})
}
