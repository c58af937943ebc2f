// Package resource is the Resource Scanner (spec.md §4.8): it samples
// each live process's CPU and memory usage plus its disk-write rate,
// and flags a ransomware-like heuristic when both are elevated at
// once. Paranoid mode (internal/config) runs this scanner on its own
// 3-second cadence independent of the main 2-second tick.
package resource

import (
	"sync"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

const (
	// Thresholds reproduced from spec.md §4.8's heuristic table.
	highWriteBytesPerSec  = 50 * 1024 * 1024
	highCPUPercent        = 40.0
	elevatedWriteBytesPerSec = 20 * 1024 * 1024
	elevatedCPUPercent    = 30.0

	// ThreatThreshold is the minimum accumulated resource score that
	// marks a process as resource-threatening for the orchestrator's
	// paranoid-mode kill path.
	ThreatThreshold = 4
)

// Sample is one process's resource reading for this sweep.
type Sample struct {
	PID        int32
	CPUPercent float64
	RSSBytes   uint64
	WriteRate  float64 // bytes/sec since the previous sample
	Score      int
	Reasons    []string
}

// Scanner tracks per-pid write-byte counters across sweeps so it can
// derive a rate, mirroring the teacher updater's mutex-guarded
// failure-count bookkeeping pattern applied to a per-pid byte counter
// instead of a single global counter.
type Scanner struct {
	mu      sync.Mutex
	lastIO  map[int32]ioSample
	selfPID int32
}

type ioSample struct {
	bytes uint64
	at    time.Time
}

// New constructs a Scanner that exempts selfPID from scanning
// (spec.md §4.11 self-protection extends here too).
func New(selfPID int32) *Scanner {
	return &Scanner{lastIO: make(map[int32]ioSample), selfPID: selfPID}
}

// Sweep samples every live process's resource usage and returns the
// subset whose heuristic score is nonzero.
func (s *Scanner) Sweep() ([]Sample, error) {
	pids, err := gopsprocess.Pids()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var results []Sample

	for _, pid := range pids {
		if pid == s.selfPID {
			continue
		}
		proc, err := gopsprocess.NewProcess(pid)
		if err != nil {
			continue
		}

		cpuPercent, _ := proc.CPUPercent()
		memInfo, err := proc.MemoryInfo()
		var rss uint64
		if err == nil && memInfo != nil {
			rss = memInfo.RSS
		}

		writeRate := s.writeRateBytesPerSec(pid, proc, now)

		score, reasons := classify(writeRate, cpuPercent)
		if score == 0 {
			continue
		}
		results = append(results, Sample{
			PID:        pid,
			CPUPercent: cpuPercent,
			RSSBytes:   rss,
			WriteRate:  writeRate,
			Score:      score,
			Reasons:    reasons,
		})
	}
	return results, nil
}

func (s *Scanner) writeRateBytesPerSec(pid int32, proc *gopsprocess.Process, now time.Time) float64 {
	io, err := proc.IOCounters()
	if err != nil || io == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.lastIO[pid]
	s.lastIO[pid] = ioSample{bytes: io.WriteBytes, at: now}
	if !ok {
		return 0
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 || io.WriteBytes < prev.bytes {
		return 0
	}
	return float64(io.WriteBytes-prev.bytes) / elapsed
}

// classify applies spec.md §4.8's ransomware heuristic: high write rate
// AND high CPU scores +5 "RANSOMWARE"; the elevated-but-not-high band
// (checked only when the high band didn't already match) scores +2.
func classify(writeRate, cpuPercent float64) (int, []string) {
	if writeRate > highWriteBytesPerSec && cpuPercent > highCPUPercent {
		return 5, []string{"RANSOMWARE"}
	}
	if writeRate > elevatedWriteBytesPerSec && cpuPercent > elevatedCPUPercent {
		return 2, []string{"Elevated Write+CPU"}
	}
	return 0, nil
}

// Forget drops write-rate tracking state for pid, called once a process
// exits so the map doesn't grow unbounded.
func (s *Scanner) Forget(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastIO, pid)
}
