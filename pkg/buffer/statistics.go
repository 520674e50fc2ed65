package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity per side. Counters are updated while the
// buffer lock is held and read atomically from anywhere.
type Statistics struct {
	acquires    [2]atomic.Int64
	grants      [2]atomic.Int64
	partials    [2]atomic.Int64
	unavailable [2]atomic.Int64
	rejections  [2]atomic.Int64
	commits     [2]atomic.Int64
	abandons    [2]atomic.Int64
	bytes       [2]atomic.Int64
	waitNanos   [2]atomic.Int64

	occupied    atomic.Int64
	maxOccupied atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) acquire(side Side) { s.acquires[side].Add(1) }
func (s *Statistics) reject(side Side) { s.rejections[side].Add(1) }
func (s *Statistics) timeout(side Side) { s.unavailable[side].Add(1) }
func (s *Statistics) abandon(side Side) { s.abandons[side].Add(1) }
func (s *Statistics) waited(side Side, d time.Duration) {
	s.waitNanos[side].Add(int64(d))
}

func (s *Statistics) grant(side Side, partial bool) {
	s.grants[side].Add(1)
	if partial {
		s.partials[side].Add(1)
	}
}

func (s *Statistics) commit(side Side, n, occupied int) {
	s.commits[side].Add(1)
	s.bytes[side].Add(int64(n))
	s.occupied.Store(int64(occupied))
	for {
		peak := s.maxOccupied.Load()
		if int64(occupied) <= peak || s.maxOccupied.CompareAndSwap(peak, int64(occupied)) {
			return
		}
	}
}

// Acquires returns the number of acquire calls on side.
func (s *Statistics) Acquires(side Side) int64 { return s.acquires[side].Load() }

// Grants returns the number of acquires on side that returned a reservation.
func (s *Statistics) Grants(side Side) int64 { return s.grants[side].Load() }

// Partials returns the number of grants on side shorter than requested.
func (s *Statistics) Partials(side Side) int64 { return s.partials[side].Load() }

// Unavailable returns the number of acquires on side that found nothing
// before the deadline.
func (s *Statistics) Unavailable(side Side) int64 { return s.unavailable[side].Load() }

// Rejections returns the number of acquires on side rejected because the
// side was already reserved.
func (s *Statistics) Rejections(side Side) int64 { return s.rejections[side].Load() }

// Commits returns the number of commits on side.
func (s *Statistics) Commits(side Side) int64 { return s.commits[side].Load() }

// Abandons returns the number of abandons on side.
func (s *Statistics) Abandons(side Side) int64 { return s.abandons[side].Load() }

// Bytes returns the bytes committed on side: produced for Write, consumed
// for Read.
func (s *Statistics) Bytes(side Side) int64 { return s.bytes[side].Load() }

// WaitTime returns the total time acquirers on side spent blocked.
func (s *Statistics) WaitTime(side Side) time.Duration {
	return time.Duration(s.waitNanos[side].Load())
}

// Occupied returns the occupied length after the most recent commit.
func (s *Statistics) Occupied() int64 { return s.occupied.Load() }

// MaxOccupied returns the highest occupied length observed after a commit.
func (s *Statistics) MaxOccupied() int64 { return s.maxOccupied.Load() }

// Uptime returns how long the buffer has existed.
func (s *Statistics) Uptime() time.Duration { return time.Since(s.startTime) }

// Throughput returns bytes committed per second on side since creation.
func (s *Statistics) Throughput(side Side) float64 {
	elapsed := s.Uptime().Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(s.Bytes(side)) / elapsed
}

// SideSummary is a snapshot of one side's counters.
type SideSummary struct {
	Acquires    int64         `json:"acquires"`
	Grants      int64         `json:"grants"`
	Partials    int64         `json:"partials"`
	Unavailable int64         `json:"unavailable"`
	Rejections  int64         `json:"rejections"`
	Commits     int64         `json:"commits"`
	Abandons    int64         `json:"abandons"`
	Bytes       int64         `json:"bytes"`
	WaitTime    time.Duration `json:"wait_time"`
	Throughput  float64       `json:"throughput"`
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Write       SideSummary   `json:"write"`
	Read        SideSummary   `json:"read"`
	Occupied    int64         `json:"occupied"`
	MaxOccupied int64         `json:"max_occupied"`
	Uptime      time.Duration `json:"uptime"`
}

func (s *Statistics) sideSummary(side Side) SideSummary {
	return SideSummary{
		Acquires:    s.Acquires(side),
		Grants:      s.Grants(side),
		Partials:    s.Partials(side),
		Unavailable: s.Unavailable(side),
		Rejections:  s.Rejections(side),
		Commits:     s.Commits(side),
		Abandons:    s.Abandons(side),
		Bytes:       s.Bytes(side),
		WaitTime:    s.WaitTime(side),
		Throughput:  s.Throughput(side),
	}
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Write:       s.sideSummary(Write),
		Read:        s.sideSummary(Read),
		Occupied:    s.Occupied(),
		MaxOccupied: s.MaxOccupied(),
		Uptime:      s.Uptime(),
	}
}
