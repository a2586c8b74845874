package notify

import "sync"

// Queue is an in-memory bounded FIFO Handle. In-process participants and
// tests read from it; Deliver never blocks.
type Queue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Message, size)}
}

func (q *Queue) Deliver(m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// C returns the channel messages are delivered on. It is closed by Close.
func (q *Queue) C() <-chan Message {
	return q.ch
}

// Drain returns every queued message without blocking.
func (q *Queue) Drain() []Message {
	var out []Message
	for {
		select {
		case m, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

// Close stops further deliveries. Messages already queued remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
