// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/src/parser/http.rs
//

package parser

import (
	"bytes"
	"errors"
)

// ErrNotHTTP1 is returned by [H1Parser.Parse] when the buffer does not
// start with a recognized HTTP/1 request method.
var ErrNotHTTP1 = errors.New("buffer does not start with a valid HTTP/1 request line")

var h1Methods = [][]byte{
	[]byte("GET"), []byte("HEAD"), []byte("OPTIONS"), []byte("CONNECT"),
	[]byte("POST"), []byte("PUT"), []byte("PATCH"), []byte("TRACE"), []byte("DELETE"),
}

// H1Parser extracts the Host header value from the first HTTP/1 request
// line in a buffer.
type H1Parser struct {
	checkedMethod bool
}

var _ Parser = (*H1Parser)(nil)

// NewH1Parser returns a fresh [*H1Parser].
func NewH1Parser() *H1Parser {
	return &H1Parser{}
}

// Parse implements [Parser].
func (p *H1Parser) Parse(buf []byte) Result {
	matched, needMore := isHTTP1(buf)
	if !matched {
		if needMore {
			return Result{Status: NeedMore}
		}
		return Result{Status: Failed, Err: ErrNotHTTP1}
	}
	if host, ok := findHostHeader(buf); ok {
		return Result{Status: Ready, Name: host}
	}
	return Result{Status: NeedMore}
}

// isHTTP1 reports whether buf starts with a recognized method immediately
// followed by a request line separator. needMore is true when buf is a
// strict prefix of some method and there simply isn't enough data yet to
// tell — it never indicates a match on its own.
func isHTTP1(buf []byte) (matched, needMore bool) {
	for _, method := range h1Methods {
		if len(buf) < len(method) {
			if bytes.HasPrefix(method, buf) {
				needMore = true
			}
			continue
		}
		if !bytes.HasPrefix(buf, method) {
			continue
		}
		if len(buf) == len(method) {
			needMore = true
			continue
		}
		if isRequestLineSeparator(buf[len(method)]) {
			return true, false
		}
	}
	return false, needMore
}

// isRequestLineSeparator reports whether b can follow a method name in a
// valid HTTP/1 request line (RFC 9112 §3: method SP request-target).
func isRequestLineSeparator(b byte) bool {
	return b == ' '
}

// findHostHeader scans buf line-by-line (LF-delimited, CR tolerated) for
// the first header whose name equals "Host" case-insensitively, and
// returns the trimmed value after the first colon.
func findHostHeader(buf []byte) (string, bool) {
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := bytes.TrimSpace(line[:idx])
		if !bytes.EqualFold(name, []byte("Host")) {
			continue
		}
		return string(bytes.TrimSpace(line[idx+1:])), true
	}
	return "", false
}
