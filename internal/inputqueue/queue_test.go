package inputqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/clock"
)

func TestEnqueueDrainFIFO(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 1, InputIndex: 1})
	q.Enqueue(Event{Frame: 1, InputIndex: 2})
	q.Enqueue(Event{Frame: 1, InputIndex: 3})

	evs := q.Drain(1)
	assert.Len(t, evs, 3)
	assert.Equal(t, uint16(1), evs[0].InputIndex)
	assert.Equal(t, uint16(2), evs[1].InputIndex)
	assert.Equal(t, uint16(3), evs[2].InputIndex)

	assert.Empty(t, q.Drain(1))
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 5})
	assert.Len(t, q.Peek(5), 1)
	assert.Len(t, q.Peek(5), 1)
}

func TestRetryCandidatesExcludesAcked(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 10})
	q.Acknowledge(10)

	out := q.RetryCandidates(20, 100, 5)
	assert.Empty(t, out)
}

func TestRetryCandidatesExcludesFuture(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 30})

	out := q.RetryCandidates(20, 100, 5)
	assert.Empty(t, out)
}

func TestRetryCandidatesExcludesTooOld(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 1})

	out := q.RetryCandidates(200, 50, 5)
	assert.Empty(t, out)
}

func TestRetryCandidatesStopsAtRetryLimit(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 1})

	for i := 0; i < 3; i++ {
		out := q.RetryCandidates(10, 100, 3)
		assert.Len(t, out, 1)
	}

	out := q.RetryCandidates(10, 100, 3)
	assert.Empty(t, out)
}

func TestRetryCandidatesIncrementsRetryCountOnce(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 1})

	out := q.RetryCandidates(10, 100, 5)
	assert.Equal(t, 1, out[0].RetryCount)

	stored := q.Peek(1)
	assert.Equal(t, 1, stored[0].RetryCount)
}

func TestEvictOlderThanDropsAtCutoffInclusive(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 90})
	q.Enqueue(Event{Frame: 100})
	q.Enqueue(Event{Frame: 110})

	q.EvictOlderThan(clock.Frame(110), 20)

	frames := q.Frames()
	assert.ElementsMatch(t, []clock.Frame{100, 110}, frames)
}

func TestClearEmptiesQueue(t *testing.T) {
	q := New()
	q.Enqueue(Event{Frame: 1})
	q.Enqueue(Event{Frame: 2})
	q.Clear()
	assert.Equal(t, 0, q.Len())
}
