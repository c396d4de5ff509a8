// SPDX-License-Identifier: GPL-3.0-or-later

// Package parser extracts a service name from the first bytes of a TCP
// connection. Each [Parser] implementation recognizes one application
// protocol (HTTP/1 Host header, TLS ClientHello SNI) and is handed the
// entire buffer accumulated so far on every call, never an incremental
// delta, so it is free to re-scan from the start or keep an internal
// cursor as it sees fit.
//
// A parser instance is stateful and must be owned by a single connection;
// never share one across connections.
package parser

// Kind names a supported application protocol. Configured per listener.
type Kind string

const (
	KindH1  Kind = "h1"
	KindTLS Kind = "tls"
)

// The configuration string "http/1" is accepted as an alias of KindH1;
// see parseParserKinds in internal/config.

// Status is the tri-state outcome of one [Parser.Parse] call.
type Status int

const (
	// NeedMore means the parser hasn't seen enough bytes yet and must be
	// called again once more bytes are available.
	NeedMore Status = iota
	// Ready means the parser extracted a service name (possibly empty,
	// when the protocol has no name of its own).
	Ready
	// Failed means the buffer can never be valid input for this parser;
	// the caller must not invoke it again for this connection.
	Failed
)

// Result is the outcome of one [Parser.Parse] call.
type Result struct {
	Status Status
	Name   string
	Err    error
}

// Parser consumes a growing byte buffer and yields a service name, or
// indicates it needs more bytes, or that the buffer can never match its
// protocol.
//
// Parse is always handed the entire buffer accumulated so far, not an
// incremental delta. A [Failed] result is sticky: the caller must not
// call Parse again on this instance.
type Parser interface {
	Parse(buf []byte) Result
}

// New returns a fresh [Parser] for kind. Each call returns a new,
// independent instance — parsers are never shared across connections.
func New(kind Kind) Parser {
	switch kind {
	case KindTLS:
		return NewTLSParser()
	default:
		return NewH1Parser()
	}
}
