package ratelimit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlinux/telempostd/internal/ratelimit"
)

func TestBurstEnabled(t *testing.T) {
	assert.False(t, ratelimit.BurstEnabled(-1))
	assert.True(t, ratelimit.BurstEnabled(0))
	assert.True(t, ratelimit.BurstEnabled(100))
}

func TestWindow_CheckSumsActiveWindow(t *testing.T) {
	var w ratelimit.Window

	// Seed minutes 0..4 with one record each, windowLen=5, so at minute=4
	// the whole window is populated.
	for m := 0; m <= 4; m++ {
		w.Update(m, 5, 1)
	}

	ok, err := w.Check(4, 5, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok, "5 accepted within limit 5")

	ok, err = w.Check(4, 5, 5, 1)
	require.NoError(t, err)
	assert.False(t, ok, "6th record should exceed limit 5")
}

func TestWindow_UpdateZeroesTail(t *testing.T) {
	var w ratelimit.Window

	// Populate every slot so any non-zeroed slot after Update is detectable.
	for i := 0; i < ratelimit.Slots; i++ {
		w.Update(i, ratelimit.Slots, 1)
	}

	// windowLen=5 at minute=10: active window is minutes [6..10]. Every
	// other slot must be zeroed by the update at minute=10.
	w.Update(10, 5, 1)

	// Active window [6..10] holds 6 records (5 from the initial loop plus
	// the +1 at minute 10).
	ok, err := w.Check(10, 6, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Minute 5 falls outside the active window and must have been zeroed
	// as stale tail by the Update at minute 10.
	ok, err = w.Check(5, 0, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok, "slot 5 should have been zeroed as stale tail")
}

func TestWindow_SlidingAcrossIdleMinutes(t *testing.T) {
	var w ratelimit.Window

	w.Update(0, 10, 3)
	ok, err := w.Check(0, 3, 10, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Jump forward past the window length with no intervening updates —
	// the old count must no longer be visible.
	w.Update(15, 10, 0)
	ok, err = w.Check(15, 0, 10, 0)
	require.NoError(t, err)
	assert.True(t, ok, "old count at minute 0 must not count toward window ending at 15")
}

func TestWindow_CheckDoesNotMutate(t *testing.T) {
	var w ratelimit.Window
	w.Update(0, 60, 5)

	_, err := w.Check(0, 5, 60, 5)
	require.NoError(t, err)

	ok, err := w.Check(0, 5, 60, 0)
	require.NoError(t, err)
	assert.True(t, ok, "Check must not have mutated state from the previous call")
}

func TestWindow_OverflowGuard(t *testing.T) {
	var w ratelimit.Window
	w.Update(0, 1, ^uint64(0))

	_, err := w.Check(0, 0, 1, 1)
	assert.ErrorIs(t, err, ratelimit.ErrOverflow)
}

func TestWindow_Reset(t *testing.T) {
	var w ratelimit.Window
	w.Update(0, 60, 5)
	w.Reset()

	ok, err := w.Check(0, 0, 60, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
