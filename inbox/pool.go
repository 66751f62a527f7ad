package inbox

import (
	"sync"

	"github.com/gammazero/workerpool"
)

// unwrapPool bounds concurrent unwraps for one Start generation.
type unwrapPool struct {
	mu      sync.RWMutex
	wp      *workerpool.WorkerPool
	stopped bool
}

func newUnwrapPool(workers int) *unwrapPool {
	return &unwrapPool{wp: workerpool.New(workers)}
}

// submit queues fn and reports false once the pool is stopped.
func (p *unwrapPool) submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	p.wp.Submit(fn)
	return true
}

// stop refuses new work, runs what is queued and releases the workers.
func (p *unwrapPool) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wp.StopWait()
}
