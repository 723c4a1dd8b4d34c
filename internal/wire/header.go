// Package wire implements the length-prefixed binary framing for the
// file-transfer protocol: fixed-layout request/response headers and the
// opcode-specific payloads carried inside them.
//
// All multi-byte integers are little-endian and unsigned. Fixed-width
// strings are NUL-padded on the wire and decoded by stripping trailing
// NULs.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMalformedHeader is returned when a header cannot be parsed, including
// an unrecognized request code.
var ErrMalformedHeader = errors.New("wire: malformed header")

// ErrMalformedPayload is returned when a payload's declared size disagrees
// with the bytes actually read, or a fixed-width field cannot be decoded.
var ErrMalformedPayload = errors.New("wire: malformed payload")

// RequestHeader is the 23-byte header that precedes every request payload.
type RequestHeader struct {
	// ClientID is the 16-byte client_id field, exposed as 32-char lowercase hex.
	ClientID string
	Version     uint8
	Code        RequestCode
	PayloadSize uint32
}

// DecodeRequestHeader parses a 23-byte request header. buf must be exactly
// RequestHeaderSize bytes.
func DecodeRequestHeader(buf []byte) (*RequestHeader, error) {
	if len(buf) != RequestHeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", ErrMalformedHeader, len(buf), RequestHeaderSize)
	}

	code := RequestCode(binary.LittleEndian.Uint16(buf[17:19]))
	if !code.Valid() {
		return nil, fmt.Errorf("%w: unrecognized code %d", ErrMalformedHeader, code)
	}

	return &RequestHeader{
		ClientID:    hex.EncodeToString(buf[0:16]),
		Version:     buf[16],
		Code:        code,
		PayloadSize: binary.LittleEndian.Uint32(buf[19:23]),
	}, nil
}

// Encode serializes the header back to its 23-byte wire form. Used by
// tests to assert round-trip parity and by the codec's own self-tests.
func (h *RequestHeader) Encode() ([]byte, error) {
	raw, err := hex.DecodeString(h.ClientID)
	if err != nil || len(raw) != ClientIDSize {
		return nil, fmt.Errorf("%w: client_id must be %d hex bytes", ErrMalformedHeader, ClientIDSize)
	}

	buf := make([]byte, RequestHeaderSize)
	copy(buf[0:16], raw)
	buf[16] = h.Version
	binary.LittleEndian.PutUint16(buf[17:19], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
	return buf, nil
}

// ResponseHeader is the 7-byte header that precedes every response payload.
// There is no client_id in the response header; client_id, when present,
// lives in the payload.
type ResponseHeader struct {
	Version     uint8
	Code        ResponseCode
	PayloadSize uint32
}

// Encode serializes the header to its 7-byte wire form.
func (h *ResponseHeader) Encode() []byte {
	buf := make([]byte, ResponseHeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[3:7], h.PayloadSize)
	return buf
}

// DecodeResponseHeader parses a 7-byte response header.
func DecodeResponseHeader(buf []byte) (*ResponseHeader, error) {
	if len(buf) != ResponseHeaderSize {
		return nil, fmt.Errorf("%w: response header is %d bytes, want %d", ErrMalformedHeader, len(buf), ResponseHeaderSize)
	}
	return &ResponseHeader{
		Version:     buf[0],
		Code:        ResponseCode(binary.LittleEndian.Uint16(buf[1:3])),
		PayloadSize: binary.LittleEndian.Uint32(buf[3:7]),
	}, nil
}

// NewResponseHeader builds a response header for code with the same
// protocol version as the request it answers.
func NewResponseHeader(req *RequestHeader, code ResponseCode, payloadSize uint32) *ResponseHeader {
	return &ResponseHeader{Version: req.Version, Code: code, PayloadSize: payloadSize}
}
