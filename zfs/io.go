package zfs

import (
	"io"
	"sync/atomic"

	"github.com/juju/ratelimit"
)

func rateLimitReader(reader io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return reader
	}
	return ratelimit.Reader(reader, ratelimit.NewBucketWithRate(float64(bytesPerSecond), bytesPerSecond))
}

// NewCountReader creates a new CountReader
func NewCountReader(reader io.Reader) *CountReader {
	return &CountReader{
		Reader: reader,
	}
}

// CountReader counts the bytes it has read
type CountReader struct {
	io.Reader
	n int64
}

func (r *CountReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	atomic.AddInt64(&r.n, int64(n))
	return n, err
}

// Count returns the number of bytes read so far
func (r *CountReader) Count() int64 {
	return atomic.LoadInt64(&r.n)
}
