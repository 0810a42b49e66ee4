package relay

import (
	"sync"
)

// Kind discriminates the messages a worker produces.
type Kind int

const (
	KindProgress Kind = iota
	KindCompleted
	KindFailed
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Terminal returns true if the message ends the job's stream.
func (k Kind) Terminal() bool {
	return k != KindProgress
}

// Message is one progress or outcome report from a worker, tagged with
// the job it belongs to.
type Message struct {
	JobID      string
	Kind       Kind
	Percent    float64
	Speed      string
	ETASeconds int
	Title      string
	OutputPath string
	Err        string
	// Crashed marks a failure synthesized from a worker that exited
	// without a structured terminal message.
	Crashed bool
}

// Relay multiplexes messages from many concurrent workers to the queue
// manager's drain loop. Publish never blocks: messages accumulate in an
// in-memory queue bounded only by available memory, so a slow consumer
// cannot stall progress collection.
type Relay struct {
	mu     sync.Mutex
	queue  []Message
	closed bool

	wake chan struct{}
	out  chan Message
}

func New() *Relay {
	r := &Relay{
		wake: make(chan struct{}, 1),
		out:  make(chan Message),
	}
	go r.pump()
	return r
}

// Publish enqueues a message without blocking. Messages published after
// Close are dropped.
func (r *Relay) Publish(msg Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Out returns the consumer channel. It is closed after Close once every
// queued message has been delivered. Per-job ordering follows publish
// order; no ordering holds across jobs.
func (r *Relay) Out() <-chan Message {
	return r.out
}

// Close stops the relay. Queued messages are still delivered.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) pump() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			if r.closed {
				r.mu.Unlock()
				close(r.out)
				return
			}
			r.mu.Unlock()
			<-r.wake
			continue
		}
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, msg := range batch {
			r.out <- msg
		}
	}
}
