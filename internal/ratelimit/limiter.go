// Package ratelimit implements the sliding-window burst limiter (spec.md
// §4.4, component C4): a 60-slot ring, one slot per minute of the trailing
// hour, checked before a record is sent and updated only once it actually
// is. This replaces the teacher's Redis-backed per-request limiter
// (internal/ratelimit previously held a Lua-script sliding window over
// github.com/redis/go-redis/v9) with the process-local array the original
// telemetry daemon used — there is a single owner (the event loop), so no
// shared store is needed, and spec.md §5 is explicit that the daemon is
// single-threaded.
package ratelimit

import "errors"

// Slots is the number of ring positions: one per minute of the trailing
// hour (spec.md §3 "S = 60 slots").
const Slots = 60

// ErrOverflow is returned by Check when adding inc to a slot could overflow
// the counter (spec.md §3 invariant "burst[i] < SIZE_MAX − incValue").
var ErrOverflow = errors.New("ratelimit: counter would overflow")

// Window is a single 60-slot ring of per-minute counts, value-typed so it
// can sit directly inside pipeline.State for the record axis and the byte
// axis (spec.md §9 "Ring-buffer counters").
type Window struct {
	slots [Slots]uint64
}

// BurstEnabled reports whether a configured burst limit is active.
// burst_limit_enabled(-1) == false; every other value, including 0, is
// enabled (spec.md §4.4, §8 property 3).
func BurstEnabled(limit int64) bool {
	return limit > -1
}

// Check sums the trailing W-minute window ending at minute m (inclusive)
// plus inc, and reports whether the result stays within limit. It does not
// mutate the window — Update is a separate, explicit step run only once the
// record is actually sent (spec.md §4.4 "Checks run before updates").
func (w *Window) Check(minute int, limit int64, windowLen int, inc uint64) (bool, error) {
	start := (Slots + (minute - windowLen + 1)) % Slots

	var count uint64
	for i := 0; i < windowLen; i++ {
		slot := w.slots[(start+i)%Slots]
		if slot > ^uint64(0)-inc {
			return false, ErrOverflow
		}
		count += slot
	}
	count += inc

	return int64(count) <= limit, nil
}

// Update adds inc to the slot for minute, then zeros every slot outside the
// trailing windowLen-minute window, so no history older than the active
// window is ever counted again even after long idle periods (spec.md §4.4
// "zero-out tail rule", §8 property 2).
func (w *Window) Update(minute int, windowLen int, inc uint64) {
	w.slots[minute] += inc

	blank := Slots - windowLen
	for i := 1; i <= blank; i++ {
		w.slots[(minute+i)%Slots] = 0
	}
}

// Reset zeros every slot. A zero-value Window is already empty, so
// pipeline.NewState does not call it.
func (w *Window) Reset() {
	w.slots = [Slots]uint64{}
}
