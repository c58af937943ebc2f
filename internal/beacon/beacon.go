// Package beacon is the Beacon Tracker (spec.md §4.4): it keeps a
// bounded per-(pid, destination) history of connection timestamps and
// flags destinations being contacted at a suspiciously regular cadence.
package beacon

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// maxHistory bounds each key's timestamp deque, the same
	// enforce-limit-on-write discipline the teacher's OfflineQueue
	// applies to its SQLite row count.
	maxHistory = 200

	minHitsInWindow = 4
	window          = 60 * time.Second
	maxCadenceStdDev = 2.0 // seconds
)

// key identifies one (process, destination) pair being tracked.
type key struct {
	pid  int32
	dest string
}

// Tracker holds the bounded per-key timestamp histories.
type Tracker struct {
	mu      sync.Mutex
	history map[key][]time.Time
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{history: make(map[key][]time.Time)}
}

// Observe records that pid contacted dest at now, then evaluates
// whether that (pid, dest) pair is currently beaconing: at least
// minHitsInWindow timestamps within the trailing window, and a standard
// deviation of successive-gap durations under maxCadenceStdDev seconds
// (spec.md §4.4).
func (t *Tracker) Observe(pid int32, dest string, now time.Time) (beaconing bool, uniqueDsts int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{pid: pid, dest: dest}
	hist := append(t.history[k], now)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	t.history[k] = hist

	uniqueDsts = t.countUniqueDestinationsLocked(pid)
	return isBeaconing(hist, now), uniqueDsts
}

func (t *Tracker) countUniqueDestinationsLocked(pid int32) int {
	seen := make(map[string]struct{})
	for k := range t.history {
		if k.pid == pid {
			seen[k.dest] = struct{}{}
		}
	}
	return len(seen)
}

// isBeaconing applies spec.md §4.4's exact test to a single key's
// history: at least minHitsInWindow timestamps in the trailing window,
// AND the standard deviation of the sorted sequence's successive
// differences is below maxCadenceStdDev.
func isBeaconing(hist []time.Time, now time.Time) bool {
	cutoff := now.Add(-window)
	var recent []time.Time
	for _, ts := range hist {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) < minHitsInWindow {
		return false
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].Before(recent[j]) })

	diffs := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		diffs = append(diffs, recent[i].Sub(recent[i-1]).Seconds())
	}
	return stdDev(diffs) < maxCadenceStdDev
}

func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sqDiff float64
	for _, x := range xs {
		d := x - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(xs)))
}

// Prune discards history entries older than window for every key, so a
// long-running tracker doesn't accumulate stale keys for processes that
// have exited.
func (t *Tracker) Prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-window)
	for k, hist := range t.history {
		var kept []time.Time
		for _, ts := range hist {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(t.history, k)
		} else {
			t.history[k] = kept
		}
	}
}
