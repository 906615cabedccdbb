package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 4, 20, 16, 0, 0, 0, time.UTC)

func TestFakeFiresInDueOrderThenRegistrationOrder(t *testing.T) {
	c := NewFake(epoch)
	var got []string
	c.After(2*time.Second, func() { got = append(got, "b") })
	c.After(time.Second, func() { got = append(got, "a") })
	c.After(2*time.Second, func() { got = append(got, "c") })

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(2500*time.Millisecond), c.Now())
	assert.Zero(t, c.Pending())
}

func TestFakeEveryAndStop(t *testing.T) {
	c := NewFake(epoch)
	n := 0
	var tk Timer
	tk = c.Every(time.Second, func() {
		n++
		if n == 3 {
			tk.Stop()
		}
	})

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, n)
	assert.False(t, tk.Stop(), "second stop reports inactive")
}

func TestFakeCallbackSchedulesWithinAdvance(t *testing.T) {
	c := NewFake(epoch)
	var at []time.Duration
	c.After(time.Second, func() {
		at = append(at, c.Now().Sub(epoch))
		c.After(500*time.Millisecond, func() { at = append(at, c.Now().Sub(epoch)) })
	})

	c.Advance(2 * time.Second)
	require.Len(t, at, 2)
	assert.Equal(t, time.Second, at[0])
	assert.Equal(t, 1500*time.Millisecond, at[1])
}

func TestFakeStoppedTimerNeverFires(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	tm := c.After(time.Second, func() { fired = true })
	require.True(t, tm.Stop())

	// A timer stopped by an earlier callback due at the same instant stays silent.
	var late Timer
	c.After(2*time.Second, func() { late.Stop() })
	late = c.After(2*time.Second, func() { fired = true })

	c.Advance(3 * time.Second)
	assert.False(t, fired)
}
