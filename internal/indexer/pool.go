package indexer

import "sync"

// pool runs submitted jobs on a fixed set of workers. pending counts jobs that were
// accepted but have not finished, so flush can wait without racing new submissions.
type pool struct {
	jobs    chan func()
	workers sync.WaitGroup

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

func newPool(workers int) *pool {
	p := &pool{jobs: make(chan func(), workers*4)}
	p.idle = sync.NewCond(&p.mu)
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *pool) work() {
	defer p.workers.Done()
	for job := range p.jobs {
		job()
		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// submit queues job, blocking while the queue is full. It returns false once the pool
// is closed.
func (p *pool) submit(job func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.pending++
	p.mu.Unlock()
	p.jobs <- job
	return true
}

func (p *pool) flush() {
	p.mu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// close rejects new jobs, waits for accepted ones and stops the workers.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
	close(p.jobs)
	p.workers.Wait()
}
