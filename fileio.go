package caskdb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// readFull reads len(buf) bytes from the file's current position, retrying
// interrupted reads. When failOnEOF is true a short read is an error;
// otherwise the number of bytes actually read is returned so callers at
// recovery boundaries can detect a torn tail.
func readFull(f *os.File, buf []byte, failOnEOF bool) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := f.Read(buf[read:])
		read += n
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == io.EOF {
			if failOnEOF {
				return read, fmt.Errorf("read %d of %d bytes: %w", read, len(buf), io.ErrUnexpectedEOF)
			}
			return read, nil
		}
		return read, fmt.Errorf("read failed: %w", err)
	}
	return read, nil
}

// preadFull is readFull at an explicit offset, leaving the file's streaming
// position untouched.
func preadFull(f *os.File, buf []byte, offset int64, failOnEOF bool) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := f.ReadAt(buf[read:], offset+int64(read))
		read += n
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == io.EOF {
			if failOnEOF {
				return read, fmt.Errorf("read %d of %d bytes at offset %d: %w", read, len(buf), offset, io.ErrUnexpectedEOF)
			}
			return read, nil
		}
		return read, fmt.Errorf("read at offset %d failed: %w", offset, err)
	}
	return read, nil
}

// writeFull writes all of buf at the file's current position, retrying
// interrupted writes. There is no short-write concept: anything but full
// success is an error.
func writeFull(f *os.File, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := f.Write(buf[written:])
		written += n
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("write failed: %w", err)
		}
	}
	return nil
}

// pwriteFull is writeFull at an explicit offset.
func pwriteFull(f *os.File, buf []byte, offset int64) error {
	written := 0
	for written < len(buf) {
		n, err := f.WriteAt(buf[written:], offset+int64(written))
		written += n
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("write at offset %d failed: %w", offset, err)
		}
	}
	return nil
}

// preallocate reserves size bytes of backing store so positional reads into
// the file never hit a hole. Falls back to plain truncation on filesystems
// without allocation support.
func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return f.Truncate(size)
	}
	return fmt.Errorf("failed to preallocate %d bytes: %w", size, err)
}
