package varint

import "errors"

var (
	errBufferTooSmall = errors.New("varint: buffer does not contain a complete value")
	errOverflow       = errors.New("varint: value overflows 64 bits")
)
