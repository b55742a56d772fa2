package pairing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerEvery(t *testing.T) {
	sched := NewScheduler()
	defer sched.CancelAll()

	var ticks atomic.Int32
	sched.Every("tick", 5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, time.Millisecond)
	assert.True(t, sched.Active("tick"))
}

func TestSchedulerCancelStopsFiring(t *testing.T) {
	sched := NewScheduler()

	var ticks atomic.Int32
	sched.Every("tick", 5*time.Millisecond, func() { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 1 },
		time.Second, time.Millisecond)

	sched.Cancel("tick")
	assert.False(t, sched.Active("tick"))

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load(), "cancelled timer must not fire again")
}

func TestSchedulerReplaceByName(t *testing.T) {
	sched := NewScheduler()
	defer sched.CancelAll()

	var first, second atomic.Int32
	sched.Every("tick", 5*time.Millisecond, func() { first.Add(1) })
	sched.Every("tick", 5*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() >= 2 },
		time.Second, time.Millisecond)

	settled := first.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, first.Load(), "replaced timer must be stopped")
}

func TestSchedulerCancelAll(t *testing.T) {
	sched := NewScheduler()

	sched.Every("a", time.Hour, func() {})
	sched.Every("b", time.Hour, func() {})
	require.True(t, sched.Active("a"))
	require.True(t, sched.Active("b"))

	sched.CancelAll()
	assert.False(t, sched.Active("a"))
	assert.False(t, sched.Active("b"))

	// Idempotent.
	sched.CancelAll()
	sched.Cancel("a")
}
