package delta

import (
	"github.com/cstlee/RooBench/internal/faults"
)

// LatencyWindow returns the samples written to a circular buffer of the given
// capacity between the before count start and the after count end, in write
// order.
//
// Slot i of buf holds the most recent sample whose index modulo capacity is i.
// When end-start reaches capacity every slot was overwritten inside the window
// and the whole buffer is returned, oldest sample first.
func LatencyWindow(buf []uint64, start, end, capacity uint64) ([]uint64, error) {
	if capacity == 0 {
		return nil, faults.New(faults.MalformedSnapshot, "latency buffer capacity is zero").WithField("client_stats.latencies")
	}
	if end < start {
		return nil, faults.New(faults.CounterRegression, "client count went from %d to %d", start, end).WithField("client_stats.count")
	}
	n := end - start
	if n == 0 {
		return []uint64{}, nil
	}

	// A longer buffer means the ring size is wrong and slot arithmetic would
	// pick up stale samples.
	if uint64(len(buf)) > capacity {
		return nil, faults.New(faults.MalformedSnapshot,
			"latency buffer holds %d samples, more than its capacity %d", len(buf), capacity).
			WithField("client_stats.latencies")
	}
	// Slots up to min(end, capacity) must have been written by now.
	need := min(end, capacity)
	if uint64(len(buf)) < need {
		return nil, faults.New(faults.MalformedSnapshot,
			"latency buffer holds %d samples, window [%d,%d) needs %d", len(buf), start, end, need).
			WithField("client_stats.latencies")
	}

	if n >= capacity {
		pivot := end % capacity
		out := make([]uint64, 0, capacity)
		out = append(out, buf[pivot:capacity]...)
		out = append(out, buf[:pivot]...)
		return out, nil
	}

	lo, hi := start%capacity, end%capacity
	out := make([]uint64, 0, n)
	if lo < hi {
		return append(out, buf[lo:hi]...), nil
	}
	// The window wraps past the end of the buffer.
	out = append(out, buf[lo:capacity]...)
	return append(out, buf[:hi]...), nil
}
