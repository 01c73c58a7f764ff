package pal

import (
	"golang.org/x/sys/unix"
)

// Mmap creates a read-only shared mapping of the file starting at offset
// and covering size bytes. Writers never write through the mapping; the
// returned Span is shared freely by concurrent read transactions.
func (h *Handle) Mmap(offset int64, size int64) (Span, error) {
	h.mu.Lock()
	fd := h.fd()
	h.mu.Unlock()

	data, err := unix.Mmap(fd, offset, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Span{}, wrapIO("mmap", h.path, err)
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return Span{Address: data, Size: size}, nil
}

// Unmap releases a Span previously returned by Mmap.
func Unmap(span Span) error {
	if span.Address == nil {
		return nil
	}
	if err := unix.Munmap(span.Address); err != nil {
		return wrapIO("munmap", "<mapped span>", err)
	}
	return nil
}
