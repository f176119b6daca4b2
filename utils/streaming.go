package utils

import (
	"bytes"
	"context"
	"io"
	"sync"

	apperrors "github.com/Skryldev/asset-manager/errors"
)

// bufPool reuses byte buffers to reduce GC pressure.
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

// DrainReader reads all bytes from r into a pooled buffer and returns them.
// Pass the buffer back with ReleaseBuffer once its bytes have been copied.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
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

// ReadAll drains r and returns an owned copy of its bytes.  A positive max
// bounds the input; larger sources fail with ErrInputTooLarge.
func ReadAll(ctx context.Context, r io.Reader, max int64, chunkSize int) ([]byte, error) {
	if max > 0 {
		r = &LimitedReader{R: r, Max: max}
	}
	buf, err := DrainReader(ctx, r, chunkSize)
	if err != nil {
		return nil, err
	}
	out := CloneBytes(buf.Bytes())
	ReleaseBuffer(buf)
	return out, nil
}

// LimitedReader wraps r and fails with ErrInputTooLarge once more than Max
// bytes are available.  A source of exactly Max bytes reads cleanly.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max <= 0 {
		return l.R.Read(p)
	}
	if l.n >= l.Max {
		var probe [1]byte
		n, err := l.R.Read(probe[:])
		if n > 0 {
			return 0, apperrors.ErrInputTooLarge
		}
		if err == nil {
			return 0, nil
		}
		return 0, err
	}
	if remain := l.Max - l.n; int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}

// ChunkedWriter splits writes into fixed-size chunks so that sinks see
// bounded write calls.
type ChunkedWriter struct {
	W         io.Writer
	ChunkSize int
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = len(p)
	}
	total := 0
	for len(p) > 0 {
		end := min(size, len(p))
		n, err := c.W.Write(p[:end])
		total += n
		if err != nil {
			return total, err
		}
		p = p[end:]
	}
	return total, nil
}
