package protocol

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformed indicates a payload's internal length prefixes or fixed
// fields are inconsistent with the bytes actually present.
var ErrMalformed = fmt.Errorf("malformed payload")

// EncodeU16 appends n to buf in big-endian order.
func EncodeU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

// EncodeU32 appends n to buf in big-endian order.
func EncodeU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// DecodeU16 decodes a big-endian uint16. It fails if data is not exactly 2
// bytes long.
func DecodeU16(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: u16 requires 2 bytes, got %d", ErrMalformed, len(data))
	}
	return decodeU16Unchecked(data), nil
}

func decodeU16Unchecked(data []byte) uint16 {
	return uint16(data[0])<<8 | uint16(data[1])
}

// DecodeU32 decodes a big-endian uint32. It fails if data is not exactly 4
// bytes long.
func DecodeU32(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: u32 requires 4 bytes, got %d", ErrMalformed, len(data))
	}
	return decodeU32Unchecked(data), nil
}

func decodeU32Unchecked(data []byte) uint32 {
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}

// AppendString appends a raw, unterminated UTF-8 string to buf.
func AppendString(buf []byte, s string) []byte {
	return append(buf, s...)
}

// AppendLengthPrefixedString appends a u16 length prefix followed by the raw
// UTF-8 bytes of s.
func AppendLengthPrefixedString(buf []byte, s string) []byte {
	buf = EncodeU16(buf, uint16(len(s)))
	return AppendString(buf, s)
}

// validateUTF8 rejects strings that are not well-formed UTF-8, matching the
// wire schema's "raw UTF-8, no terminator" contract. Valid-but-unnormalized
// input is accepted as-is; NormalizeForLog only affects presentation.
func validateUTF8(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformed, field)
	}
	return nil
}

// NormalizeForLog returns s in Unicode normalization form C, for stable
// presentation in logs and audit records. It is never applied to the value
// callbacks receive, only to what gets written to a log line or audit row,
// so two byte-distinct-but-canonically-equal hostnames don't show up as
// different strings in an operator's log tail.
func NormalizeForLog(s string) string {
	return norm.NFC.String(s)
}
