package eventqueue

// Queue is an unbounded FIFO fed and drained through channels. A publisher
// pushes without ever blocking on a slow consumer; the backlog grows instead.
// Beware! You almost certainly want T to be a small value type; use pointers
// for large objects.
type Queue[T any] struct {
	in      chan T
	out     chan T
	backlog []T
}

// New creates a Queue and starts its forwarding goroutine.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.run()
	return q
}

func (q *Queue[T]) run() {
	for {
		if len(q.backlog) == 0 {
			// Nothing queued: only new input can make progress.
			v, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.backlog = append(q.backlog, v)
			continue
		}
		select {
		case q.out <- q.backlog[0]:
			q.backlog = q.backlog[1:]
		case v, ok := <-q.in:
			if !ok {
				// Input closed: flush whatever is queued, then close output.
				for _, item := range q.backlog {
					q.out <- item
				}
				close(q.out)
				return
			}
			q.backlog = append(q.backlog, v)
		}
	}
}

// Push enqueues one value. It must not be called after Close.
func (q *Queue[T]) Push(v T) {
	q.in <- v
}

// Out returns the channel consumers receive from. It is closed after Close,
// once the backlog has drained.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops the queue. Queued values are still delivered before the output
// channel closes.
func (q *Queue[T]) Close() {
	close(q.in)
}
