// Package pal is the platform abstraction layer: file create/open/close,
// mmap/unmap, and positional read/write/fsync. Everything above this
// package talks to files only through these calls.
package pal

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// CreationFlags selects whether fsync calls issued against a Handle
// actually reach the disk.
type CreationFlags int

const (
	// FlagsNone skips fsync on Fsync calls; state is only guaranteed
	// consistent across a clean Close.
	FlagsNone CreationFlags = 0
	// FlagsDurable makes Fsync actually sync file contents to storage.
	FlagsDurable CreationFlags = 1 << iota
)

// Span describes a memory-mapped view of a file.
type Span struct {
	Address []byte
	Size    int64
}

// Handle wraps an open file plus the bookkeeping pal needs to serialize
// growth and mapping operations against it.
type Handle struct {
	mu    sync.Mutex
	file  *os.File
	flags CreationFlags
	path  string
	size  int64
}

// Path returns the path the handle was opened with.
func (h *Handle) Path() string { return h.path }

// Size returns the last size recorded by SetFileSize or CreateFile.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Durable reports whether the handle was created with FlagsDurable.
func (h *Handle) Durable() bool {
	return h.flags&FlagsDurable != 0
}

var (
	errShortWrite = errors.New("short write: file does not permit partial positional writes")
	errShortRead  = errors.New("short read: reached end of file before buffer was filled")
)

func wrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "pal: %s %s", op, path)
}
