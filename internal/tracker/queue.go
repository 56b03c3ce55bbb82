package tracker

import "sync"

// command is one remote write. run is retried according to the policy;
// exactly one of onOK or onFail runs afterwards on the worker goroutine.
type command struct {
	op     string
	table  string
	run    func() error
	onOK   func()
	onFail func(err error)
}

// worker drains commands in FIFO order on a single goroutine and tracks
// auxiliary goroutines (fetches, feedback calls) so callers can wait for
// the store to go idle.
type worker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []command
	busy   int
	closed bool
	done   chan struct{}
	exec   func(command)
}

func newWorker(exec func(command)) *worker {
	w := &worker{exec: exec, done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.items) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.items) == 0 {
			w.mu.Unlock()
			return
		}
		c := w.items[0]
		w.items = w.items[1:]
		w.busy++
		w.mu.Unlock()

		w.exec(c)

		w.mu.Lock()
		w.busy--
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// push appends c. It reports false once the worker is closed.
func (w *worker) push(c command) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.items = append(w.items, c)
	w.cond.Broadcast()
	return true
}

// spawn runs fn on its own goroutine and counts it as outstanding work.
func (w *worker) spawn(fn func()) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.busy++
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.busy--
			w.cond.Broadcast()
			w.mu.Unlock()
		}()
		fn()
	}()
	return true
}

// wait blocks until no commands are queued or running.
func (w *worker) wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.items) > 0 || w.busy > 0 {
		w.cond.Wait()
	}
}

// close stops accepting work, drains the queue and waits for spawned
// goroutines.
func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
	w.wait()
}
