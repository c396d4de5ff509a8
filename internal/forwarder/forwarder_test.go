// SPDX-License-Identifier: GPL-3.0-or-later

package forwarder

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/lainera/rpx/internal/parser"
	"github.com/lainera/rpx/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoUpstream listens on loopback, accepts one connection, drains
// whatever is written to it, replies with a canned response, then closes.
func startEchoUpstream(t *testing.T, response string) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte(response))
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestHandleForwardsHTTPRequestAndSplicesResponse(t *testing.T) {
	port := startEchoUpstream(t, "HTTP/1.1 200 OK\r\n\r\nhello")

	pipeline := resolver.NewPipeline(resolver.Compose(resolver.Build{
		Constant: &resolver.ConstantConfig{
			IPs: map[string][]netip.Addr{"example.com": {netip.MustParseAddr("127.0.0.1")}},
		},
	}))

	f := New([]parser.Kind{parser.KindH1}, pipeline, nil, nil)

	client, server := net.Pipe()
	requestDone := make(chan struct{})
	go func() {
		_, _ = client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		close(requestDone)
	}()

	handleDone := make(chan struct{})
	go func() {
		f.Handle(context.Background(), server, port)
		close(handleDone)
	}()

	<-requestDone

	respBuf := make([]byte, 4096)
	n, err := client.Read(respBuf)
	require.NoError(t, err)
	assert.Contains(t, string(respBuf[:n]), "hello")

	client.Close()
	select {
	case <-handleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned after client closed")
	}
}

func TestHandleDropsWhenNoParserMatches(t *testing.T) {
	pipeline := resolver.NewPipeline(resolver.Compose(resolver.Build{}))
	f := New([]parser.Kind{parser.KindH1, parser.KindTLS}, pipeline, nil, nil)

	client, server := net.Pipe()
	go func() {
		_, _ = client.Write([]byte("not a known protocol preface at all"))
	}()

	handleDone := make(chan struct{})
	go func() {
		f.Handle(context.Background(), server, 8314)
		close(handleDone)
	}()

	select {
	case <-handleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned for an unresolvable connection")
	}

	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandleDropsOnReadTimeout(t *testing.T) {
	pipeline := resolver.NewPipeline(resolver.Compose(resolver.Build{}))
	f := New([]parser.Kind{parser.KindH1}, pipeline, nil, nil)

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	handleDone := make(chan struct{})
	go func() {
		f.Handle(ctx, server, 8314)
		close(handleDone)
	}()

	select {
	case <-handleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle never returned after its read deadline elapsed")
	}
}
