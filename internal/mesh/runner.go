package mesh

import "sync"

// linkRunner serializes the blocking operations of a single link. Queued
// operations run in order on one goroutine; after stop the queue is
// discarded and the link, if one was created, is closed.
type linkRunner struct {
	mu      sync.Mutex
	queue   []func(r *linkRunner)
	stopped bool
	wake    chan struct{}
	exited  chan struct{}

	link Link
}

func newLinkRunner() *linkRunner {
	r := &linkRunner{
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go r.run()
	return r
}

// enqueue never blocks. It reports false once the runner has stopped.
func (r *linkRunner) enqueue(op func(r *linkRunner)) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, op)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *linkRunner) stop() {
	r.mu.Lock()
	r.stopped = true
	r.queue = nil
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *linkRunner) run() {
	defer close(r.exited)
	defer func() {
		if r.link != nil {
			r.link.Close()
		}
	}()

	for range r.wake {
		for {
			r.mu.Lock()
			if r.stopped {
				r.mu.Unlock()
				return
			}
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			op := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			op(r)
		}
	}
}
