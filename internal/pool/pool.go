// Package pool provides the bounded worker pool used for the client's send,
// retry, and transport I/O executors. Submission never blocks: tasks queue
// without bound and run on a fixed number of workers.
package pool

import "sync"

// Pool is a fixed-size worker pool with an unbounded task queue.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

// New starts a pool with the given number of worker goroutines.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a task for execution. It never blocks. After Stop, the task
// runs on a fresh goroutine so submitters cannot deadlock on a dead pool.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		go task()
		return
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	p.mu.Unlock()
}

// Stop drains the remaining queue and waits for all workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		task()
	}
}
