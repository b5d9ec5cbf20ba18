package storage

import "io"

// progressReader reports the size of every read to fn.
type progressReader struct {
	r  io.Reader
	fn func(n int64)
}

// ProgressReader wraps r so fn sees each chunk as it is consumed. A nil fn returns r unchanged.
func ProgressReader(r io.Reader, fn func(n int64)) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{r: r, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.fn(int64(n))
	}
	return n, err
}
