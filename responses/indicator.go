package responses

import (
	"sync"
	"time"
)

type Status string

const (
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
)

const DefaultSavedDelay = 800 * time.Millisecond

// Indicators tracks the "saving/saved" badge of every client. A badge shows
// "saving" right after a change and flips to "saved" after a fixed delay,
// whatever the outcome of the write.
type Indicators struct {
	mu      sync.Mutex
	pending map[string]uint64
	seq     uint64

	delay time.Duration
	after func(time.Duration, func())
}

func NewIndicators(delay time.Duration) *Indicators {
	return &Indicators{
		pending: map[string]uint64{},
		delay:   delay,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// WithAfterFunc replaces the timer used to schedule the flip to "saved".
func (r *Indicators) WithAfterFunc(after func(time.Duration, func())) *Indicators {
	r.after = after
	return r
}

func (r *Indicators) For(owner string) *Indicator {
	return &Indicator{r, owner}
}

func (r *Indicators) saving(owner string) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.pending[owner] = seq
	r.mu.Unlock()

	r.after(r.delay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// a later change restarts the delay
		if r.pending[owner] == seq {
			delete(r.pending, owner)
		}
	})
}

func (r *Indicators) status(owner string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[owner]; ok {
		return StatusSaving
	}
	return StatusSaved
}

// Indicator is the badge of a single client.
type Indicator struct {
	r     *Indicators
	owner string
}

func (i *Indicator) Saving() {
	if i != nil {
		i.r.saving(i.owner)
	}
}

func (i *Indicator) Status() Status {
	if i == nil {
		return StatusSaved
	}
	return i.r.status(i.owner)
}
