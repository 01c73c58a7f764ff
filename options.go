package tidestore

import "github.com/tidestore/tidestore/pal"

// CompressionAlgorithm selects the codec applied to overflow-page payloads.
// Grounded on sidb's compress.go CompressAlgorithm enum.
type CompressionAlgorithm int

const (
	// CompressionNone stores overflow payloads verbatim.
	CompressionNone CompressionAlgorithm = iota
	// CompressionSnappy compresses overflow payloads with github.com/golang/snappy.
	CompressionSnappy
	// CompressionLZ4 compresses overflow payloads with github.com/pierrec/lz4/v4.
	CompressionLZ4
)

const minimumMinimumSize = 128 * 1024 // 128 KiB.

// Options configures Open/Create. The zero value is not valid; start from
// DefaultOptions and override only what you need.
type Options struct {
	// MinimumSize is the size the file is grown to on open. Must be >=
	// 128 KiB.
	MinimumSize int64
	// MaximumSize caps growth; allocations past it fail with NO_SPACE.
	// Zero means unbounded.
	MaximumSize int64
	// AvoidMmapIO selects buffered (pread/pwrite + working set) I/O
	// instead of mmap.
	AvoidMmapIO bool
	// Durable enables fsync at commit.
	Durable bool
	// EncryptionKey, if non-empty, enables the AES-CTR page transform.
	// Must be exactly 32 bytes (AES-256) when set.
	EncryptionKey []byte
	// Compression selects the overflow-page codec.
	Compression CompressionAlgorithm
}

// DefaultOptions is a reasonable starting point: mmap mode, non-durable,
// a 1 MiB initial file, no encryption, no compression.
var DefaultOptions = Options{
	MinimumSize: 1024 * 1024,
	Durable:     false,
}

func (o Options) validate(op string) error {
	if o.MinimumSize < minimumMinimumSize {
		return newErr(op, KindInvalidArgument, "minimum_size must be at least 128 KiB")
	}
	if o.MaximumSize != 0 && o.MaximumSize < o.MinimumSize {
		return newErr(op, KindInvalidArgument, "maximum_size must be >= minimum_size")
	}
	if len(o.EncryptionKey) != 0 && len(o.EncryptionKey) != 32 {
		return newErr(op, KindInvalidArgument, "encryption_key must be exactly 32 bytes")
	}
	switch o.Compression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return newErr(op, KindInvalidArgument, "unknown compression algorithm")
	}
	return nil
}

func (o Options) palFlags() pal.CreationFlags {
	if o.Durable {
		return pal.FlagsDurable
	}
	return pal.FlagsNone
}
