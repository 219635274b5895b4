package clock

import (
	"sync"
	"time"
)

// Virtual is a manually advanced Clock. Scheduled callbacks run synchronously
// inside Advance, ordered by due time and then by scheduling order.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	entries []*virtualEntry
}

type virtualEntry struct {
	clock    *Virtual
	seq      uint64
	due      time.Time
	interval time.Duration // zero for one-shot
	fn       func()
	stopped  bool
}

// NewVirtual creates a virtual clock starting at start
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Every(interval time.Duration, fn func()) Task {
	if interval <= 0 {
		panic("clock: non-positive interval")
	}
	return v.schedule(interval, interval, fn)
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Task {
	return v.schedule(d, 0, fn)
}

func (v *Virtual) schedule(d, interval time.Duration, fn func()) *virtualEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	e := &virtualEntry{
		clock:    v,
		seq:      v.seq,
		due:      v.now.Add(d),
		interval: interval,
		fn:       fn,
	}
	v.entries = append(v.entries, e)
	return e
}

func (e *virtualEntry) Stop() {
	v := e.clock
	v.mu.Lock()
	defer v.mu.Unlock()
	e.stopped = true
	for i, other := range v.entries {
		if other == e {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			break
		}
	}
}

// Advance moves the clock forward by d, running every callback that falls
// due on the way. Callbacks may schedule or stop tasks.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.nextDueLocked(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = next.due
		if next.interval > 0 {
			next.due = next.due.Add(next.interval)
		} else {
			next.stopped = true
			v.removeLocked(next)
		}
		fn := next.fn
		v.mu.Unlock()

		fn()
	}
}

// Pending returns the number of scheduled tasks
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

func (v *Virtual) nextDueLocked(target time.Time) *virtualEntry {
	var next *virtualEntry
	for _, e := range v.entries {
		if e.stopped || e.due.After(target) {
			continue
		}
		if next == nil || e.due.Before(next.due) || (e.due.Equal(next.due) && e.seq < next.seq) {
			next = e
		}
	}
	return next
}

func (v *Virtual) removeLocked(e *virtualEntry) {
	for i, other := range v.entries {
		if other == e {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}
