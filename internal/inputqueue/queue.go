// Package inputqueue implements a per-frame FIFO of pending outbound
// inputs with retry metadata: drain/peek/acknowledge/retry-candidate
// queries over a frame-keyed structure.
package inputqueue

import (
	"sync"

	"github.com/zalo/netplaycore/internal/clock"
)

// Event is a queued input event carrying its own retry bookkeeping.
type Event struct {
	Frame       clock.Frame
	Slot        uint8
	PlayerIndex uint8
	InputIndex  uint16
	Value       int32
	FromRemote  bool
	RetryCount  int
}

// Queue is a FIFO keyed by frame. Every mutating method is safe for
// concurrent use; the intended caller is a single executor goroutine per
// room, but the lock makes it safe to call peek/drain from elsewhere
// (diagnostics, tests) without races.
type Queue struct {
	mu sync.Mutex
	// byFrame preserves FIFO order within a frame via a slice; frames
	// are processed out of a map since arrival order across frames is
	// not guaranteed over an unordered relay channel.
	byFrame map[clock.Frame][]Event
	// acked records frames whose queued events have been acknowledged by
	// the origin. Acknowledged events are excluded from retry candidacy.
	acked map[clock.Frame]bool
}

// New creates an empty InputQueue.
func New() *Queue {
	return &Queue{
		byFrame: make(map[clock.Frame][]Event),
		acked:   make(map[clock.Frame]bool),
	}
}

// Enqueue appends an event to its frame's FIFO.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byFrame[ev.Frame] = append(q.byFrame[ev.Frame], ev)
}

// Drain removes and returns every event queued for frame, in enqueue order.
func (q *Queue) Drain(frame clock.Frame) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.byFrame[frame]
	delete(q.byFrame, frame)
	return evs
}

// Peek returns the events queued for frame without removing them.
func (q *Queue) Peek(frame clock.Frame) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.byFrame[frame]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// Acknowledge marks a frame's events as ACK'd by the origin, removing them
// from retry eligibility.
func (q *Queue) Acknowledge(frame clock.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[frame] = true
}

// RetryCandidates returns events eligible for retry and increments each
// returned event's RetryCount exactly once.
//
// An event is retry-eligible until *either* it is ACK'd, *or*
// retry_count == unorderedRetries, *or* current_frame − event.frame >
// max_age.
func (q *Queue) RetryCandidates(currentFrame clock.Frame, maxAge uint32, unorderedRetries int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Event
	for frame, evs := range q.byFrame {
		if frame >= currentFrame {
			continue
		}
		age := uint32(currentFrame - frame)
		if age > maxAge {
			continue
		}
		if q.acked[frame] {
			continue
		}
		for i := range evs {
			if evs[i].RetryCount >= unorderedRetries {
				continue
			}
			evs[i].RetryCount++
			out = append(out, evs[i])
		}
	}
	return out
}

// Clear empties the queue entirely.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byFrame = make(map[clock.Frame][]Event)
	q.acked = make(map[clock.Frame]bool)
}

// EvictOlderThan drops every event at or below current-retainWindow and
// clears stale ack bookkeeping.
func (q *Queue) EvictOlderThan(current clock.Frame, retainWindow uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Evict at and below the cutoff, not just strictly below it: a frame
	// exactly retainWindow behind current is already too old to be worth
	// retaining for retry.
	cutoff := int64(current) - int64(retainWindow)
	for frame := range q.byFrame {
		if int64(frame) <= cutoff {
			delete(q.byFrame, frame)
			delete(q.acked, frame)
		}
	}
	for frame := range q.acked {
		if int64(frame) <= cutoff {
			delete(q.acked, frame)
		}
	}
}

// Len returns the number of distinct frames with pending events (for tests
// and diagnostics).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byFrame)
}

// Frames returns the set of frames currently holding events, for tests.
func (q *Queue) Frames() []clock.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]clock.Frame, 0, len(q.byFrame))
	for f := range q.byFrame {
		out = append(out, f)
	}
	return out
}
