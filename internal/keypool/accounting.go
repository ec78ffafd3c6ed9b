package keypool

import (
	"sync"
	"time"
)

// Usage is a point-in-time view of one key's traffic.
type Usage struct {
	LastMinute int64 `json:"requests_last_minute"`
	LastHour   int64 `json:"requests_last_hour"`
	Last24h    int64 `json:"requests_last_24h"`
	AllTime    int64 `json:"total_requests"`
}

const (
	secondBuckets = 60
	minuteBuckets = 24 * 60
)

// bucket is one ring slot. The stamp records which second (or minute) the
// slot currently carries so stale slots are detected lazily instead of by a
// sweeper goroutine.
type bucket struct {
	stamp int64
	count int64
}

// counterSet accumulates one stream of events at two granularities: a
// per-second ring covering the last minute and a per-minute ring covering the
// last 24 hours.
type counterSet struct {
	seconds [secondBuckets]bucket
	minutes [minuteBuckets]bucket
	allTime int64
}

func (c *counterSet) record(unix int64) {
	sec := &c.seconds[unix%secondBuckets]
	if sec.stamp != unix {
		sec.stamp = unix
		sec.count = 0
	}
	sec.count++

	minute := unix / 60
	min := &c.minutes[minute%minuteBuckets]
	if min.stamp != minute {
		min.stamp = minute
		min.count = 0
	}
	min.count++

	c.allTime++
}

// usage sums the live buckets relative to unix. The minute window is exact to
// the second; the hour and day windows are exact to the minute.
func (c *counterSet) usage(unix int64) Usage {
	var u Usage
	u.AllTime = c.allTime
	for i := range c.seconds {
		if unix-c.seconds[i].stamp < secondBuckets {
			u.LastMinute += c.seconds[i].count
		}
	}
	minute := unix / 60
	for i := range c.minutes {
		age := minute - c.minutes[i].stamp
		if age < 60 {
			u.LastHour += c.minutes[i].count
		}
		if age < minuteBuckets {
			u.Last24h += c.minutes[i].count
		}
	}
	return u
}

// Accountant tracks request counts per key and globally over sliding windows.
// Recording is a mutex-guarded in-memory increment, so it never blocks on
// I/O and is safe to call on the relay hot path.
type Accountant struct {
	mu     sync.Mutex
	perKey map[string]*counterSet
	global counterSet
	now    func() time.Time
}

// NewAccountant constructs an empty Accountant using the wall clock.
func NewAccountant() *Accountant {
	return &Accountant{
		perKey: make(map[string]*counterSet),
		now:    time.Now,
	}
}

// Record counts one request attributed to keyID at the current instant.
func (a *Accountant) Record(keyID string) {
	unix := a.now().Unix()
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.perKey[keyID]
	if !ok {
		set = &counterSet{}
		a.perKey[keyID] = set
	}
	set.record(unix)
	a.global.record(unix)
}

// StatsFor returns the windowed usage for one key. Unknown keys report zero
// usage rather than an error; a key that has never served traffic is
// indistinguishable from one that aged out of every window.
func (a *Accountant) StatsFor(keyID string) Usage {
	unix := a.now().Unix()
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.perKey[keyID]
	if !ok {
		return Usage{}
	}
	return set.usage(unix)
}

// GlobalStats returns the windowed usage aggregated across all keys,
// including keys that have since been removed.
func (a *Accountant) GlobalStats() Usage {
	unix := a.now().Unix()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global.usage(unix)
}

// Remove drops the per-key counters for keyID. Global windows are
// unaffected; traffic that happened still happened.
func (a *Accountant) Remove(keyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.perKey, keyID)
}
