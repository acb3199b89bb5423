package utils

import (
	"bytes"
	"context"
	"io"
	"sync"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// bufPool reuses byte buffers to reduce GC pressure on the download path.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	// Cap large buffers to avoid pinning excessive memory.
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// ProgressFunc receives byte-count observations while a body is drained.
// total is -1 when the length is unknown.
type ProgressFunc func(received, total int64)

// DrainReader reads all bytes from r into a pooled buffer, reporting progress
// after each chunk.  The caller owns the returned buffer; pass it back with
// ReleaseBuffer.  total is the expected length (-1 if unknown) and is only
// used for progress reporting.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int, total int64, onProgress ProgressFunc) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	buf := AcquireBuffer()
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onProgress != nil {
				onProgress(int64(buf.Len()), total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
	}
	return buf, nil
}

// LimitedReader wraps r and fails with ErrImageTooLarge once more than Max
// bytes have been read.  A body of exactly Max bytes passes through intact.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max > 0 {
		if l.n > l.Max {
			return 0, apperrors.ErrImageTooLarge
		}
		// Read one byte past the limit so an oversized body is detected
		// without rejecting one that ends exactly at it.
		if remain := l.Max - l.n + 1; int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	if l.Max > 0 && l.n > l.Max {
		return n, apperrors.ErrImageTooLarge
	}
	return n, err
}
