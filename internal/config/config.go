// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/ormos/src/config/mod.rs (tagged-union
// rule list, validate()), original_source/ormos/src/config/listener.rs
// (listener defaulting), original_source/ormos/src/config/parser_kind.rs
// ("h1"/"http/1" alias), original_source/rpx/src/resolver/constant/port_binding.rs
// (port binding "N"/"N:M" parsing).

// Package config loads and validates the YAML configuration document
// described in spec.md §6, translating it into the [listener.Spec] list
// and [resolver.Build] the rest of the program consumes.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lainera/rpx/internal/dnsclient"
	"github.com/lainera/rpx/internal/listener"
	"github.com/lainera/rpx/internal/parser"
	"github.com/lainera/rpx/internal/resolver"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration validation failure, so callers
// can distinguish it from I/O errors opening the file with [errors.Is].
var ErrInvalid = errors.New("config: invalid")

// defaultListenAddress is used when `listen` is absent or empty.
const defaultListenAddress = "127.0.0.1:8314"

// File is the raw, unvalidated shape of the YAML document.
type File struct {
	Listen []rawListener `yaml:"listen"`
	Rules  []Rule        `yaml:"rules"`
}

type rawListener struct {
	Address string   `yaml:"address"`
	Parsers []string `yaml:"parsers"`
}

// Rule is one `rules` entry. It decodes to exactly one of
// *ConstantRule, *DNSRule, *RewriteRule, *FilterRule, *FallbackRule,
// selected by its `type` field — the Go rendering of the original's
// `#[serde(tag = "type")]` enum, since yaml.v3 has no native tagged
// union support.
type Rule struct {
	Value any
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var peek struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&peek); err != nil {
		return err
	}
	switch peek.Type {
	case "constant":
		var v ConstantRule
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
	case "dns":
		var v DNSRule
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
	case "rewrite":
		var v RewriteRule
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
	case "filter":
		var v FilterRule
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
	case "fallback":
		var v FallbackRule
		if err := node.Decode(&v); err != nil {
			return err
		}
		r.Value = &v
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalid, peek.Type)
	}
	return nil
}

// ConstantRule is a `type: constant` entry: name bound to an explicit IP
// list, a port remapping list, or both.
type ConstantRule struct {
	Name  string   `yaml:"name"`
	Ports []string `yaml:"ports"`
	IPs   []string `yaml:"ips"`
}

// DNSRule is a `type: dns` entry: one upstream race client.
type DNSRule struct {
	Address  string   `yaml:"address"`
	Strategy string   `yaml:"strategy"`
	SRV      []string `yaml:"srv"`
}

// RewriteRule is a `type: rewrite` entry.
type RewriteRule struct {
	Matcher  string `yaml:"matcher"`
	Replacer string `yaml:"replacer"`
}

// FilterRule is a `type: filter` entry.
type FilterRule struct {
	Names []string `yaml:"names"`
}

// FallbackRule is a `type: fallback` entry.
type FallbackRule struct {
	Address string `yaml:"address"`
}

// Config is the validated, ready-to-wire result of [Load].
type Config struct {
	Listeners []listener.Spec
	Build     resolver.Build
}

// Load reads and validates the configuration file at path. logger
// receives the duplicate-port-mapping warning spec.md §3 calls for;
// pass nil to discard it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return file.validate(logger)
}

func (f File) validate(logger *slog.Logger) (*Config, error) {
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: rules must be non-empty", ErrInvalid)
	}

	listeners, err := f.validateListeners()
	if err != nil {
		return nil, err
	}

	build, err := f.validateRules(logger)
	if err != nil {
		return nil, err
	}

	return &Config{Listeners: listeners, Build: build}, nil
}

func (f File) validateListeners() ([]listener.Spec, error) {
	raw := f.Listen
	if len(raw) == 0 {
		raw = []rawListener{{Address: defaultListenAddress}}
	}

	specs := make([]listener.Spec, 0, len(raw))
	for _, l := range raw {
		if _, err := netip.ParseAddrPort(l.Address); err != nil {
			return nil, fmt.Errorf("%w: listen address %q: %v", ErrInvalid, l.Address, err)
		}
		kinds, err := parseParserKinds(l.Parsers)
		if err != nil {
			return nil, err
		}
		specs = append(specs, listener.Spec{Address: l.Address, Parsers: kinds})
	}
	return specs, nil
}

func parseParserKinds(names []string) ([]parser.Kind, error) {
	if len(names) == 0 {
		return []parser.Kind{parser.KindH1, parser.KindTLS}, nil
	}
	kinds := make([]parser.Kind, 0, len(names))
	for _, name := range names {
		switch name {
		case "h1", "http/1":
			kinds = append(kinds, parser.KindH1)
		case "tls":
			kinds = append(kinds, parser.KindTLS)
		default:
			return nil, fmt.Errorf("%w: unknown parser kind %q", ErrInvalid, name)
		}
	}
	return kinds, nil
}

func (f File) validateRules(logger *slog.Logger) (resolver.Build, error) {
	var build resolver.Build
	ipRules := map[string][]netip.Addr{}
	var portRules []resolver.PortRule
	var rewriteRules []resolver.RewriteRule
	var filterNames []string
	var dnsClients []resolver.DNSClient

	for _, rule := range f.Rules {
		switch v := rule.Value.(type) {
		case *ConstantRule:
			if err := applyConstantRule(v, ipRules, &portRules); err != nil {
				return build, err
			}
		case *DNSRule:
			client, err := buildDNSClient(v)
			if err != nil {
				return build, err
			}
			dnsClients = append(dnsClients, client)
		case *RewriteRule:
			re, err := regexp.Compile(v.Matcher)
			if err != nil {
				return build, fmt.Errorf("%w: rewrite matcher %q: %v", ErrInvalid, v.Matcher, err)
			}
			rewriteRules = append(rewriteRules, resolver.RewriteRule{Matcher: re, Replacer: v.Replacer})
		case *FilterRule:
			filterNames = append(filterNames, v.Names...)
		case *FallbackRule:
			addrPort, err := netip.ParseAddrPort(v.Address)
			if err != nil {
				return build, fmt.Errorf("%w: fallback address %q: %v", ErrInvalid, v.Address, err)
			}
			dest := resolver.Destination{Addr: addrPort.Addr(), Port: addrPort.Port()}
			build.Fallback = &dest
		default:
			return build, fmt.Errorf("%w: unrecognized rule value %T", ErrInvalid, v)
		}
	}

	build.Filter = filterNames
	build.Rewrite = rewriteRules
	build.DNS = dnsClients
	if len(ipRules) > 0 || len(portRules) > 0 {
		build.Constant = &resolver.ConstantConfig{
			IPs:   ipRules,
			Ports: portRules,
			OnDuplicate: func(name string, port uint16) {
				logger.Warn("duplicatePortMapping", "name", name, "port", port)
			},
		}
	}
	return build, nil
}

func applyConstantRule(v *ConstantRule, ipRules map[string][]netip.Addr, portRules *[]resolver.PortRule) error {
	for _, ip := range v.IPs {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return fmt.Errorf("%w: constant ip %q for %q: %v", ErrInvalid, ip, v.Name, err)
		}
		ipRules[v.Name] = append(ipRules[v.Name], addr)
	}
	for _, portStr := range v.Ports {
		from, to, err := parsePortBinding(portStr)
		if err != nil {
			return fmt.Errorf("%w: constant port %q for %q: %v", ErrInvalid, portStr, v.Name, err)
		}
		*portRules = append(*portRules, resolver.PortRule{Name: v.Name, From: from, To: to})
	}
	return nil
}

func buildDNSClient(v *DNSRule) (resolver.DNSClient, error) {
	addrPort, err := netip.ParseAddrPort(v.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dns address %q: %v", ErrInvalid, v.Address, err)
	}
	strategy, err := dnsclient.ParseStrategy(v.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: dns strategy %q: %v", ErrInvalid, v.Strategy, err)
	}
	return dnsclient.New(addrPort, strategy, v.SRV), nil
}

// parsePortBinding parses "N" (meaning N:N) or "N:M" into (from, to).
func parsePortBinding(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, ":", 2)
	from, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", parts[0])
	}
	if len(parts) == 1 {
		return uint16(from), uint16(from), nil
	}
	to, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", parts[1])
	}
	return uint16(from), uint16(to), nil
}
