package tidestore

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// compressPayload compresses a value before it is stored in an overflow
// page, per the Options.Compression selection. Grounded on sidb's
// compress.go CompressAlgorithm switch.
func compressPayload(algo CompressionAlgorithm, data []byte) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, wrapErr("compressPayload", KindIO, err)
		}
		if err := w.Close(); err != nil {
			return nil, wrapErr("compressPayload", KindIO, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, newErr("compressPayload", KindInvalidArgument, "unknown compression algorithm")
	}
}

// decompressPayload reverses compressPayload.
func decompressPayload(algo CompressionAlgorithm, data []byte) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, wrapErr("decompressPayload", KindCorruption, err)
		}
		return out, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, wrapErr("decompressPayload", KindCorruption, err)
		}
		return out, nil
	default:
		return nil, newErr("decompressPayload", KindInvalidArgument, "unknown compression algorithm")
	}
}
