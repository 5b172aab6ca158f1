package storage

import (
	"io"
	"sync"
)

// progressReader counts bytes moving through it and reports them as a percentage of total
type progressReader struct {
	mu         sync.Mutex
	reader     io.Reader
	total      int64
	done       int64
	onProgress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, onProgress ProgressFunc) *progressReader {
	return &progressReader{reader: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if p.reader == nil {
		// minio-go only feeds byte counts through the progress reader
		p.advance(int64(len(b)))
		return len(b), nil
	}
	n, err := p.reader.Read(b)
	p.advance(int64(n))
	return n, err
}

func (p *progressReader) advance(n int64) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.done += n
	done := p.done
	p.mu.Unlock()

	if p.total <= 0 {
		return
	}
	p.onProgress.Report(float64(done) / float64(p.total) * 100)
}
