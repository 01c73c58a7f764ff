package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAcrossRange(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 32, 1<<64 - 1}
	for _, v := range values {
		buf := Encode(v, nil)
		require.Len(t, buf, GetLength(v))
		rest, got, err := Decode(buf)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, v, got)
	}
}

func TestDecodeConsumesOnlyItsOwnBytes(t *testing.T) {
	buf := Encode(300, nil)
	buf = Encode(9000, buf)

	rest, first, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(300), first)

	_, second, err := Decode(rest)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), second)
}

func TestDecodeTruncatedBufferFails(t *testing.T) {
	buf := Encode(1<<20, nil)
	_, _, err := Decode(buf[:len(buf)-1])
	require.Error(t, err)
}
