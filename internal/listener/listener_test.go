// SPDX-License-Identifier: GPL-3.0-or-later

package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lainera/rpx/internal/forwarder"
	"github.com/lainera/rpx/internal/parser"
	"github.com/lainera/rpx/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestForwarder(kinds []parser.Kind) *forwarder.Forwarder {
	pipeline := resolver.NewPipeline(resolver.Compose(resolver.Build{}))
	return forwarder.New(kinds, pipeline, nil, nil)
}

func TestSupervisorStartBindsAllListeners(t *testing.T) {
	specs := []Spec{
		{Address: "127.0.0.1:0", Parsers: []parser.Kind{parser.KindH1}},
		{Address: "127.0.0.1:0", Parsers: []parser.Kind{parser.KindTLS}},
	}
	sup := New(specs, newTestForwarder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal, err := sup.Start(ctx)
	require.NoError(t, err)
	require.Len(t, sup.Addrs(), 2)

	select {
	case err := <-fatal:
		t.Fatalf("unexpected fatal accept error: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSupervisorStartFailsOnBadAddress(t *testing.T) {
	specs := []Spec{{Address: "not-an-address", Parsers: []parser.Kind{parser.KindH1}}}
	sup := New(specs, newTestForwarder, nil)

	_, err := sup.Start(context.Background())
	assert.Error(t, err)
}

func TestSupervisorAcceptsAndForwards(t *testing.T) {
	specs := []Spec{{Address: "127.0.0.1:0", Parsers: []parser.Kind{parser.KindH1}}}
	sup := New(specs, newTestForwarder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := sup.Start(ctx)
	require.NoError(t, err)

	addr := sup.Addrs()[0].String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write([]byte("garbage that matches no parser"))

	buf := make([]byte, 1)
	_, readErr := conn.Read(buf)
	assert.Error(t, readErr) // connection dropped: no resolvable destination
}
