// Package progress carries run events from the execution engine to whoever
// drives the run. The producer side never blocks.
package progress

import (
	"errors"
	"sync"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// EventKind identifies the payload of an Event
type EventKind string

const (
	KindTaskStarted  EventKind = "task_started"
	KindTaskFinished EventKind = "task_finished"
	KindRunFinished  EventKind = "run_finished"
)

// Event represents a run state change
type Event struct {
	Seq    int                   `json:"seq"`
	RunID  string                `json:"run_id"`
	Kind   EventKind             `json:"kind"`
	Task   *types.ConversionTask `json:"task,omitempty"`
	Result *types.TaskResult     `json:"result,omitempty"`
	State  *types.RunState       `json:"state,omitempty"`
}

// TaskStarted builds a task_started event
func TaskStarted(runID string, task types.ConversionTask) Event {
	return Event{RunID: runID, Kind: KindTaskStarted, Task: &task}
}

// TaskFinished builds a task_finished event
func TaskFinished(runID string, result types.TaskResult) Event {
	return Event{RunID: runID, Kind: KindTaskFinished, Result: &result}
}

// RunFinished builds the terminal run_finished event
func RunFinished(state types.RunState) Event {
	return Event{RunID: state.RunID, Kind: KindRunFinished, State: &state}
}

// ErrClosed is returned when sending after the run_finished event
var ErrClosed = errors.New("progress channel closed")

// Channel is an unbounded FIFO of events for one run. Send numbers events
// and appends them without blocking; a pump goroutine hands them to the
// consumer one by one, so a slow consumer never stalls the producer.
type Channel struct {
	mu   sync.Mutex
	seq  int
	done bool
	q    *queue
}

// NewChannel creates a channel and starts its pump
func NewChannel() *Channel {
	return &Channel{q: newQueue()}
}

// Send enqueues ev. A run_finished event closes the channel for further
// sends; the events stream ends after it is delivered.
func (c *Channel) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return ErrClosed
	}
	c.seq++
	ev.Seq = c.seq
	c.q.push(ev)

	if ev.Kind == KindRunFinished {
		c.done = true
		c.q.close()
	}
	return nil
}

// Events returns the consumer side. It is closed after the run_finished
// event has been received.
func (c *Channel) Events() <-chan Event {
	return c.q.out
}

// pending returns the number of events not yet handed to the consumer
func (c *Channel) pending() int {
	return c.q.len()
}

func (c *Channel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Subscription is one listener's copy of the event stream. It outlives
// runs, keeps every event in order and ends only when closed. Close drops
// whatever the listener has not received yet.
type Subscription struct {
	q *queue
}

// NewSubscription creates a subscription and starts its pump
func NewSubscription() *Subscription {
	return &Subscription{q: newQueue()}
}

// Deliver enqueues ev. It reports false once the subscription is closed.
func (s *Subscription) Deliver(ev Event) bool {
	return s.q.push(ev)
}

// Events returns the listener side. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.q.out
}

// Backlog returns the number of events the listener has not received
func (s *Subscription) Backlog() int {
	return s.q.len()
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.q.abort()
}

// queue is the unbounded FIFO behind Channel and Subscription
type queue struct {
	mu       sync.Mutex
	items    []Event
	closed   bool
	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan Event
}

func newQueue() *queue {
	q := &queue{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan Event),
	}
	go q.pump()
	return q
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.wake()
	return true
}

// close rejects further pushes; out is closed once the backlog is delivered
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// abort closes the queue and discards the backlog
func (q *queue) abort() {
	q.close()
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) pump() {
	defer close(q.out)

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		q.mu.Lock()
		for len(q.items) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			select {
			case <-q.notify:
			case <-q.stop:
				return
			}
			q.mu.Lock()
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.stop:
			return
		}
	}
}
