package scheduler

import "sync"

// workerPool runs fire callbacks on a small fixed number of goroutines so a
// slow provider call for one cluster cannot stall scheduling of the rest.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	size  int
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 4
	}
	return &workerPool{
		tasks: make(chan func(), 64),
		size:  size,
	}
}

func (p *workerPool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

func (p *workerPool) submit(task func()) {
	p.tasks <- task
}

// stop drains queued tasks and waits for the workers to finish.
func (p *workerPool) stop() {
	close(p.tasks)
	p.wg.Wait()
}
