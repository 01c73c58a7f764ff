package pal

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CreateFile opens (creating if necessary) the file at path and returns a
// Handle. flags controls whether Fsync is a no-op or a real sync.
func CreateFile(path string, flags CreationFlags) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapIO("create", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "pal: %s is locked by another process", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIO("stat", path, err)
	}

	return &Handle{file: f, flags: flags, path: path, size: info.Size()}, nil
}

// SetFileSize grows the file to at least minSize, capped at maxSize. It
// never shrinks the file. The resulting size is recorded on the handle.
func (h *Handle) SetFileSize(minSize, maxSize int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size >= minSize {
		return nil
	}
	target := minSize
	if maxSize > 0 && target > maxSize {
		return errors.Errorf("pal: requested size %d exceeds maximum %d", minSize, maxSize)
	}
	if err := h.file.Truncate(target); err != nil {
		return wrapIO("truncate", h.path, err)
	}
	h.size = target
	return nil
}

// Fsync flushes file contents to stable storage when the handle was opened
// with FlagsDurable; otherwise it is a no-op.
func (h *Handle) Fsync() error {
	if h.flags&FlagsDurable == 0 {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return wrapIO("fsync", h.path, err)
	}
	return nil
}

// Close releases the OS file handle. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return wrapIO("close", h.path, err)
	}
	return nil
}

func (h *Handle) fd() int {
	return int(h.file.Fd())
}
