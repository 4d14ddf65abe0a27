package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStartsAtZero(t *testing.T) {
	c := New()
	assert.Equal(t, Frame(0), c.Current())
	assert.Equal(t, int64(0), c.Offset())
	assert.Equal(t, uint32(0), c.Delay())
}

func TestAdvanceToMonotone(t *testing.T) {
	c := New()
	c.AdvanceTo(10)
	assert.Equal(t, Frame(10), c.Current())
	c.AdvanceTo(20)
	assert.Equal(t, Frame(20), c.Current())
}

func TestCurrentAppliesOffset(t *testing.T) {
	c := New()
	c.AdvanceTo(10)
	c.SetOffset(5)
	assert.Equal(t, Frame(15), c.Current())

	c.SetOffset(-3)
	assert.Equal(t, Frame(7), c.Current())
}

func TestCurrentClampsBelowZero(t *testing.T) {
	c := New()
	c.AdvanceTo(2)
	c.SetOffset(-100)
	assert.Equal(t, Frame(0), c.Current())
}

func TestResetOnlyDecreasingOperation(t *testing.T) {
	c := New()
	c.AdvanceTo(50)
	c.SetOffset(10)
	c.Reset()
	assert.Equal(t, Frame(0), c.Current())
	assert.Equal(t, int64(0), c.Offset())
}

func TestDelayRoundTrip(t *testing.T) {
	c := New()
	c.SetDelay(3)
	assert.Equal(t, uint32(3), c.Delay())
}

func TestConcurrentReadsDuringAdvance(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n uint32) {
			defer wg.Done()
			c.AdvanceTo(n)
		}(uint32(i))
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Current()
		}()
	}
	wg.Wait()
}
