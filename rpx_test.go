// SPDX-License-Identifier: GPL-3.0-or-later

package rpx_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lainera/rpx"
	"github.com/lainera/rpx/internal/config"
	"github.com/stretchr/testify/require"
)

func TestServeBindsAndShutsDownCleanly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpx.yaml")
	contents := `
listen:
  - address: 127.0.0.1:0
rules:
  - type: fallback
    address: 192.0.2.1:80
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rpx.Serve(ctx, cfg, nil) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestServeFailsOnBindError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpx.yaml")
	contents := `
rules:
  - type: fallback
    address: 192.0.2.1:80
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	// occupy the default listen address so Serve's bind fails.
	ln, err := net.Listen("tcp", cfg.Listeners[0].Address)
	require.NoError(t, err)
	defer ln.Close()

	err = rpx.Serve(context.Background(), cfg, nil)
	require.Error(t, err)
}
