// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lainera/rpx/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, contents string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rpx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return Load(path, nil)
}

func TestLoadRejectsEmptyRules(t *testing.T) {
	_, err := loadYAML(t, "rules: []\n")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadDefaultsListener(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: fallback
    address: 192.0.2.1:80
`)
	require.NoError(t, err)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, defaultListenAddress, cfg.Listeners[0].Address)
	assert.Equal(t, []parser.Kind{parser.KindH1, parser.KindTLS}, cfg.Listeners[0].Parsers)
}

func TestLoadParserKindAliases(t *testing.T) {
	cfg, err := loadYAML(t, `
listen:
  - address: 127.0.0.1:1234
    parsers: [http/1]
rules:
  - type: fallback
    address: 192.0.2.1:80
`)
	require.NoError(t, err)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, []parser.Kind{parser.KindH1}, cfg.Listeners[0].Parsers)
}

func TestLoadRejectsUnknownParserKind(t *testing.T) {
	_, err := loadYAML(t, `
listen:
  - address: 127.0.0.1:1234
    parsers: [quic]
rules:
  - type: fallback
    address: 192.0.2.1:80
`)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsBadListenAddress(t *testing.T) {
	_, err := loadYAML(t, `
listen:
  - address: not-an-address
rules:
  - type: fallback
    address: 192.0.2.1:80
`)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadConstantRuleIPsAndPorts(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: constant
    name: example.com
    ips: ["10.0.0.1", "10.0.0.2"]
  - type: constant
    name: example.com
    ports: ["80", "443:8443"]
`)
	require.NoError(t, err)
	require.NotNil(t, cfg.Build.Constant)
	assert.Len(t, cfg.Build.Constant.IPs["example.com"], 2)
	require.Len(t, cfg.Build.Constant.Ports, 2)
	assert.Equal(t, uint16(80), cfg.Build.Constant.Ports[0].From)
	assert.Equal(t, uint16(80), cfg.Build.Constant.Ports[0].To)
	assert.Equal(t, uint16(443), cfg.Build.Constant.Ports[1].From)
	assert.Equal(t, uint16(8443), cfg.Build.Constant.Ports[1].To)
}

func TestLoadDNSRule(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: dns
    address: 8.8.8.8:53
    strategy: ipv4_only
    srv: [svc.local]
`)
	require.NoError(t, err)
	require.Len(t, cfg.Build.DNS, 1)
	assert.True(t, cfg.Build.DNS[0].ShouldLookupSRV("api.svc.local"))
	assert.False(t, cfg.Build.DNS[0].ShouldLookupSRV("example.com"))
}

func TestLoadRejectsBadDNSStrategy(t *testing.T) {
	_, err := loadYAML(t, `
rules:
  - type: dns
    address: 8.8.8.8:53
    strategy: bogus
`)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRewriteRule(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: rewrite
    matcher: "^([a-z]+)\\.com$"
    replacer: "$1.internal"
`)
	require.NoError(t, err)
	require.Len(t, cfg.Build.Rewrite, 1)
	assert.Equal(t, "$1.internal", cfg.Build.Rewrite[0].Replacer)
}

func TestLoadRejectsBadRewriteRegex(t *testing.T) {
	_, err := loadYAML(t, `
rules:
  - type: rewrite
    matcher: "(["
    replacer: "x"
`)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFilterRule(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: filter
    names: [allowed.net, also.allowed.net]
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"allowed.net", "also.allowed.net"}, cfg.Build.Filter)
}

func TestLoadFallbackRule(t *testing.T) {
	cfg, err := loadYAML(t, `
rules:
  - type: fallback
    address: 192.0.2.1:80
`)
	require.NoError(t, err)
	require.NotNil(t, cfg.Build.Fallback)
	assert.Equal(t, uint16(80), cfg.Build.Fallback.Port)
}

func TestLoadRejectsUnknownRuleType(t *testing.T) {
	_, err := loadYAML(t, `
rules:
  - type: bogus
`)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParsePortBinding(t *testing.T) {
	from, to, err := parsePortBinding("443")
	require.NoError(t, err)
	assert.Equal(t, uint16(443), from)
	assert.Equal(t, uint16(443), to)

	from, to, err = parsePortBinding("3333:6666")
	require.NoError(t, err)
	assert.Equal(t, uint16(3333), from)
	assert.Equal(t, uint16(6666), to)

	_, _, err = parsePortBinding("not-a-port")
	assert.Error(t, err)
}
