package loader

import (
	"io"
	"sync"
)

// progress turns shard reads into a non-decreasing fraction.
type progress struct {
	mu       sync.Mutex
	report   func(float64)
	total    int64
	received int64
	shards   int
	done     int
	last     float64
}

func newProgress(report func(float64), sizes []int64) *progress {
	p := &progress{report: report, shards: len(sizes)}
	for _, s := range sizes {
		if s < 0 {
			p.total = -1
			break
		}
		p.total += s
	}
	return p
}

func (p *progress) add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received += n
	if p.total > 0 {
		p.emit(float64(p.received) / float64(p.total))
	}
}

func (p *progress) shardDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.total <= 0 && p.shards > 0 {
		p.emit(float64(p.done) / float64(p.shards))
	}
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(1)
}

// emit must be called with mu held.
func (p *progress) emit(v float64) {
	if v > 1 {
		v = 1
	}
	if v <= p.last || p.report == nil {
		return
	}
	p.last = v
	p.report(v)
}

type countingReader struct {
	r io.Reader
	p *progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.p.add(int64(n))
	}
	return n, err
}
