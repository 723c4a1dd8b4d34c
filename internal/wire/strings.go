package wire

import "bytes"

// putFixedString copies s into dst, which must already be zeroed and sized
// to the field width; s is truncated if it's longer than dst (callers are
// expected to validate length before this point).
func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// fixedString decodes a NUL-padded fixed-width wire string by stripping
// trailing NULs.
func fixedString(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
