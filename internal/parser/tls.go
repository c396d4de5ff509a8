// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/rpx/src/parser/tls.rs, original_source/src/sni.rs
//
// The original leans on rustls::server::Acceptor, an off-the-shelf
// incremental TLS record acceptor, to recover the ClientHello SNI value
// without completing a handshake. No library in this module's dependency
// set offers the same passive extraction without driving a real
// crypto/tls handshake, so the record and handshake-message framing is
// parsed directly here. The buffer handed to Parse is always the entire
// prefix read so far, so each call simply re-walks it from byte zero
// rather than resuming from saved cursor state.
//

package parser

import (
	"encoding/binary"
	"errors"
)

// tlsMaxRecordSize bounds how many prefix bytes we will buffer while
// waiting for a complete ClientHello. 2^14 is the maximum plaintext TLS
// record payload; 2048 is slack for the record and handshake headers,
// mirroring rustls::OpaqueMessage::MAX_WIRE_SIZE.
const tlsMaxRecordSize = 1<<14 + 2048

const (
	tlsContentTypeHandshake = 0x16
	tlsHandshakeClientHello = 0x01
	tlsExtensionServerName  = 0x0000
	tlsServerNameTypeHost   = 0x00
)

// ErrMaxSizeExceeded is returned when the ClientHello was not fully
// buffered within [tlsMaxRecordSize] bytes.
var ErrMaxSizeExceeded = errors.New("tls: client hello exceeded maximum buffered size")

// errTLSShort signals "need more bytes"; it never escapes this package.
var errTLSShort = errors.New("tls: short buffer")

// ErrNotTLS is returned when the first record is not a TLS handshake
// record, or the first handshake message is not a ClientHello.
var ErrNotTLS = errors.New("tls: not a handshake record")

// TLSParser extracts the SNI server_name value from an incrementally
// buffered ClientHello.
type TLSParser struct{}

var _ Parser = (*TLSParser)(nil)

// NewTLSParser returns a fresh [*TLSParser].
func NewTLSParser() *TLSParser {
	return &TLSParser{}
}

// Parse implements [Parser].
func (p *TLSParser) Parse(buf []byte) Result {
	name, err := extractSNI(buf)
	switch {
	case err == nil:
		return Result{Status: Ready, Name: name}
	case errors.Is(err, errTLSShort):
		if len(buf) > tlsMaxRecordSize {
			return Result{Status: Failed, Err: ErrMaxSizeExceeded}
		}
		return Result{Status: NeedMore}
	default:
		return Result{Status: Failed, Err: err}
	}
}

// extractSNI reassembles the handshake-message bytes out of however many
// complete TLS records are present in buf, then parses a ClientHello out
// of that reassembled stream. It returns errTLSShort when buf does not
// yet hold a complete record or a complete handshake message.
func extractSNI(buf []byte) (string, error) {
	var handshake []byte
	rest := buf
	for {
		record, tail, err := readRecord(rest)
		if err != nil {
			if errors.Is(err, errTLSShort) && len(handshake) > 0 {
				break
			}
			return "", err
		}
		handshake = append(handshake, record...)
		rest = tail
		if len(rest) == 0 {
			break
		}
	}
	if len(handshake) == 0 {
		return "", errTLSShort
	}
	return parseClientHello(handshake)
}

// readRecord reads one TLS record off the front of buf, returning its
// handshake-protocol payload and the remaining bytes.
func readRecord(buf []byte) (payload, rest []byte, err error) {
	const headerLen = 5
	if len(buf) < headerLen {
		return nil, nil, errTLSShort
	}
	if buf[0] != tlsContentTypeHandshake {
		return nil, nil, ErrNotTLS
	}
	length := int(binary.BigEndian.Uint16(buf[3:5]))
	if len(buf) < headerLen+length {
		return nil, nil, errTLSShort
	}
	return buf[headerLen : headerLen+length], buf[headerLen+length:], nil
}

// parseClientHello parses a (possibly record-reassembled) handshake
// message and returns its SNI server_name value ("" if the extension is
// absent).
func parseClientHello(hs []byte) (string, error) {
	const headerLen = 4
	if len(hs) < headerLen {
		return "", errTLSShort
	}
	if hs[0] != tlsHandshakeClientHello {
		return "", ErrNotTLS
	}
	length := int(hs[1])<<16 | int(hs[2])<<8 | int(hs[3])
	if len(hs) < headerLen+length {
		return "", errTLSShort
	}
	body := hs[headerLen : headerLen+length]

	c := cursor{buf: body}
	if _, err := c.take(2); err != nil { // legacy_version
		return "", errTLSShort
	}
	if _, err := c.take(32); err != nil { // random
		return "", errTLSShort
	}
	if _, err := c.takeLen8(); err != nil { // session_id
		return "", errTLSShort
	}
	if _, err := c.takeLen16(); err != nil { // cipher_suites
		return "", errTLSShort
	}
	if _, err := c.takeLen8(); err != nil { // compression_methods
		return "", errTLSShort
	}
	if c.remaining() == 0 {
		// No extensions block: valid ClientHello, no SNI.
		return "", nil
	}
	extensions, err := c.takeLen16()
	if err != nil {
		return "", errTLSShort
	}
	return parseServerNameExtension(extensions)
}

func parseServerNameExtension(extensions []byte) (string, error) {
	c := cursor{buf: extensions}
	for c.remaining() > 0 {
		header, err := c.take(4)
		if err != nil {
			return "", errTLSShort
		}
		extType := binary.BigEndian.Uint16(header[0:2])
		extLen := int(binary.BigEndian.Uint16(header[2:4]))
		extBody, err := c.take(extLen)
		if err != nil {
			return "", errTLSShort
		}
		if extType != tlsExtensionServerName {
			continue
		}
		return parseServerNameList(extBody)
	}
	return "", nil
}

func parseServerNameList(body []byte) (string, error) {
	c := cursor{buf: body}
	list, err := c.takeLen16()
	if err != nil {
		return "", nil
	}
	lc := cursor{buf: list}
	for lc.remaining() > 0 {
		header, err := lc.take(3)
		if err != nil {
			return "", nil
		}
		nameType := header[0]
		nameLen := int(binary.BigEndian.Uint16(header[1:3]))
		name, err := lc.take(nameLen)
		if err != nil {
			return "", nil
		}
		if nameType == tlsServerNameTypeHost {
			return string(name), nil
		}
	}
	return "", nil
}

// cursor is a minimal allocation-free reader over a byte slice.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) take(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, errTLSShort
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) takeLen8() ([]byte, error) {
	header, err := c.take(1)
	if err != nil {
		return nil, err
	}
	return c.take(int(header[0]))
}

func (c *cursor) takeLen16() ([]byte, error) {
	header, err := c.take(2)
	if err != nil {
		return nil, err
	}
	return c.take(int(binary.BigEndian.Uint16(header)))
}
