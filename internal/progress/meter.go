package progress

import (
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of one file's progress.
type Stats struct {
	BytesDone int64
	Total     int64 // -1 when unknown
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
}

// Meter tracks byte progress and computes an exponentially smoothed rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter using the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now, total: -1}
}

// Start resets the meter for a transfer of totalBytes (-1 if unknown).
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add records n received bytes.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.done += int64(n)
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.done-m.lastDone) / dt
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.lastAt = now
	m.lastDone = m.done
}

// Snapshot returns the current progress.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		st.Percent = float64(m.done) / float64(m.total) * 100
	} else if m.total == 0 {
		st.Percent = 100
	}
	if m.rateBps > 0 && m.total > m.done {
		st.ETA = time.Duration(float64(m.total-m.done) / m.rateBps * float64(time.Second))
	}
	return st
}
