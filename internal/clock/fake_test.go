package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(epoch)
	require.True(t, c.Now().Equal(epoch))

	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(epoch.Add(90*time.Second)))
}

func TestFakeAfterFiresOnDeadline(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.True(t, got.Equal(epoch.Add(time.Second)))
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	var calls atomic.Int32

	timer := c.AfterFunc(time.Minute, func() { calls.Add(1) })
	require.Equal(t, 1, c.Pending())
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(2 * time.Minute)
	assert.Equal(t, int32(0), calls.Load())
}

func TestFakeAfterFuncRunsInOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2}, order)
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never released")
	}
}
