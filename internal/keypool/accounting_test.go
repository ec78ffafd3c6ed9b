package keypool

import (
	"testing"
	"time"
)

func newTestAccountant(start time.Time) (*Accountant, *time.Time) {
	current := start
	a := NewAccountant()
	a.now = func() time.Time { return current }
	return a, &current
}

func TestAccountant_AllTimeEqualsRecordCalls(t *testing.T) {
	t.Parallel()
	a, _ := newTestAccountant(time.Unix(1_700_000_000, 0))

	for i := 0; i < 137; i++ {
		a.Record("k1")
	}
	a.Record("k2")

	if got := a.StatsFor("k1").AllTime; got != 137 {
		t.Fatalf("k1 all-time = %d, want 137", got)
	}
	if got := a.StatsFor("k2").AllTime; got != 1 {
		t.Fatalf("k2 all-time = %d, want 1", got)
	}
	if got := a.GlobalStats().AllTime; got != 138 {
		t.Fatalf("global all-time = %d, want 138", got)
	}
}

func TestAccountant_WindowsNeverExceedAllTime(t *testing.T) {
	t.Parallel()
	a, clock := newTestAccountant(time.Unix(1_700_000_000, 0))

	for i := 0; i < 500; i++ {
		a.Record("k")
		*clock = clock.Add(7 * time.Second)
	}

	u := a.StatsFor("k")
	if u.LastMinute > u.AllTime || u.LastHour > u.AllTime || u.Last24h > u.AllTime {
		t.Fatalf("windowed counts exceed all-time: %+v", u)
	}
	if u.LastMinute > u.LastHour || u.LastHour > u.Last24h {
		t.Fatalf("windows are not nested: %+v", u)
	}
}

func TestAccountant_MinuteWindowAgesOut(t *testing.T) {
	t.Parallel()
	a, clock := newTestAccountant(time.Unix(1_700_000_000, 0))

	for i := 0; i < 10; i++ {
		a.Record("k")
	}
	if got := a.StatsFor("k").LastMinute; got != 10 {
		t.Fatalf("last minute = %d, want 10", got)
	}

	*clock = clock.Add(61 * time.Second)
	u := a.StatsFor("k")
	if u.LastMinute != 0 {
		t.Fatalf("last minute after 61s = %d, want 0", u.LastMinute)
	}
	if u.LastHour != 10 {
		t.Fatalf("last hour after 61s = %d, want 10", u.LastHour)
	}
	if u.AllTime != 10 {
		t.Fatalf("all-time after 61s = %d, want 10", u.AllTime)
	}
}

func TestAccountant_DayWindowAgesOut(t *testing.T) {
	t.Parallel()
	a, clock := newTestAccountant(time.Unix(1_700_000_000, 0))

	a.Record("k")
	*clock = clock.Add(25 * time.Hour)
	a.Record("k")

	u := a.StatsFor("k")
	if u.Last24h != 1 {
		t.Fatalf("last 24h = %d, want 1", u.Last24h)
	}
	if u.AllTime != 2 {
		t.Fatalf("all-time = %d, want 2", u.AllTime)
	}
}

func TestAccountant_UnknownKeyReportsZero(t *testing.T) {
	t.Parallel()
	a, _ := newTestAccountant(time.Unix(1_700_000_000, 0))

	if u := a.StatsFor("never-seen"); u != (Usage{}) {
		t.Fatalf("unknown key usage = %+v, want zero", u)
	}
}

func TestAccountant_RemoveDropsKeyButKeepsGlobal(t *testing.T) {
	t.Parallel()
	a, _ := newTestAccountant(time.Unix(1_700_000_000, 0))

	for i := 0; i < 5; i++ {
		a.Record("gone")
	}
	a.Remove("gone")

	if u := a.StatsFor("gone"); u != (Usage{}) {
		t.Fatalf("removed key usage = %+v, want zero", u)
	}
	if got := a.GlobalStats().AllTime; got != 5 {
		t.Fatalf("global all-time after removal = %d, want 5", got)
	}
}
