// SPDX-License-Identifier: GPL-3.0-or-later

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestH1ParserReady(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	result := p.Parse(buf)

	require.Equal(t, Ready, result.Status)
	assert.Equal(t, "example.com", result.Name)
}

func TestH1ParserCaseInsensitiveHeaderName(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GET / HTTP/1.1\r\nhost: example.com\r\n\r\n")

	result := p.Parse(buf)

	require.Equal(t, Ready, result.Status)
	assert.Equal(t, "example.com", result.Name)
}

func TestH1ParserNeedMoreBeforeHostHeader(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GET / HTTP/1.1\r\n")

	result := p.Parse(buf)

	assert.Equal(t, NeedMore, result.Status)
}

func TestH1ParserFailsOnNonHTTPMethod(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("\x16\x03\x01\x00\x01")

	result := p.Parse(buf)

	require.Equal(t, Failed, result.Status)
	assert.ErrorIs(t, result.Err, ErrNotHTTP1)
}

func TestH1ParserFailsOnMethodPrefixWithoutSeparator(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GETxyz / HTTP/1.1\r\n")

	result := p.Parse(buf)

	require.Equal(t, Failed, result.Status)
	assert.ErrorIs(t, result.Err, ErrNotHTTP1)
}

func TestH1ParserNeedMoreOnPartialMethod(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GE")

	result := p.Parse(buf)

	assert.Equal(t, NeedMore, result.Status)
}

func TestH1ParserNeedMoreOnExactMethodNoSeparatorYet(t *testing.T) {
	p := NewH1Parser()
	buf := []byte("GET")

	result := p.Parse(buf)

	assert.Equal(t, NeedMore, result.Status)
}

func TestH1ParserAllMethods(t *testing.T) {
	for _, method := range []string{"GET", "HEAD", "OPTIONS", "CONNECT", "POST", "PUT", "PATCH", "TRACE", "DELETE"} {
		t.Run(method, func(t *testing.T) {
			p := NewH1Parser()
			buf := []byte(method + " / HTTP/1.1\r\n")
			result := p.Parse(buf)
			assert.Equal(t, NeedMore, result.Status, "method %s should be recognized", method)
		})
	}
}
