package playback

import "sync"

// task is one unit of work for the scheduler loop. Resume tasks complete a
// suspension and are the only ones run while the loop is suspended.
type task struct {
	fn     func()
	resume bool
}

// executor is an unbounded FIFO of tasks drained by a single goroutine.
// Posting never blocks, so device callbacks can hand work to the loop from
// any goroutine.
type executor struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	notify chan struct{} // signalled when a task is posted
}

func newExecutor() *executor {
	return &executor{notify: make(chan struct{}, 1)}
}

// post appends fn and reports whether the executor still accepts work.
func (e *executor) post(fn func()) bool {
	return e.push(task{fn: fn})
}

// postResume appends a task that runs even while the loop is suspended.
func (e *executor) postResume(fn func()) bool {
	return e.push(task{fn: fn, resume: true})
}

func (e *executor) push(t task) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.tasks = append(e.tasks, t)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return true
}

// requeueFront puts ts back at the head of the queue, in order.
func (e *executor) requeueFront(ts []task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(ts, e.tasks...)
}

// pop removes the oldest task.
func (e *executor) pop() (task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tasks) == 0 {
		return task{}, false
	}
	t := e.tasks[0]
	e.tasks[0] = task{}
	e.tasks = e.tasks[1:]
	return t, true
}

// close rejects further posts and returns the tasks that never ran.
func (e *executor) close() []task {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	rest := e.tasks
	e.tasks = nil
	return rest
}
