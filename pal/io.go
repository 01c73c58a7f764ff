package pal

import "golang.org/x/sys/unix"

// WriteFile issues a positional write: buffer is written in full at
// offset, or an error is returned. No use of the writable mmap is ever
// made, so crash semantics stay simple.
func (h *Handle) WriteFile(offset int64, buffer []byte) error {
	h.mu.Lock()
	fd := h.fd()
	h.mu.Unlock()

	for len(buffer) > 0 {
		n, err := unix.Pwrite(fd, buffer, offset)
		if err != nil {
			return wrapIO("pwrite", h.path, err)
		}
		if n == 0 {
			return wrapIO("pwrite", h.path, errShortWrite)
		}
		buffer = buffer[n:]
		offset += int64(n)
	}
	return nil
}

// ReadFile issues a positional read: buffer is filled in full from
// offset, or an error is returned.
func (h *Handle) ReadFile(offset int64, buffer []byte) error {
	h.mu.Lock()
	fd := h.fd()
	h.mu.Unlock()

	for len(buffer) > 0 {
		n, err := unix.Pread(fd, buffer, offset)
		if err != nil {
			return wrapIO("pread", h.path, err)
		}
		if n == 0 {
			return wrapIO("pread", h.path, errShortRead)
		}
		buffer = buffer[n:]
		offset += int64(n)
	}
	return nil
}
