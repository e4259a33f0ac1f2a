package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// DefaultRetryAfter is the cooldown applied when a provider gives none.
const DefaultRetryAfter = 60 * time.Second

// RateLimitRecord is the cooldown state of one model.
type RateLimitRecord struct {
	Model      string        `json:"model"`
	LimitedAt  time.Time     `json:"limited_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Expired reports whether the cooldown has elapsed at now.
func (r RateLimitRecord) Expired(now time.Time) bool {
	return now.Sub(r.LimitedAt) >= r.RetryAfter
}

// Remaining returns the cooldown left at now.
func (r RateLimitRecord) Remaining(now time.Time) time.Duration {
	left := r.RetryAfter - now.Sub(r.LimitedAt)
	if left < 0 {
		return 0
	}
	return left
}

// RateLimitTracker holds per-model cooldowns shared by every caller.
// Records expire lazily on lookup; there is no background sweep.
type RateLimitTracker struct {
	mu           sync.Mutex
	records      map[string]RateLimitRecord
	defaultAfter time.Duration
	clock        core.Clock
}

// RateLimitTrackerOption configures a tracker.
type RateLimitTrackerOption func(*RateLimitTracker)

// WithDefaultRetryAfter sets the cooldown used when none is supplied.
func WithDefaultRetryAfter(d time.Duration) RateLimitTrackerOption {
	return func(t *RateLimitTracker) {
		if d > 0 {
			t.defaultAfter = d
		}
	}
}

// WithTrackerClock sets the clock.
func WithTrackerClock(c core.Clock) RateLimitTrackerOption {
	return func(t *RateLimitTracker) {
		t.clock = c
	}
}

// NewRateLimitTracker creates an empty tracker.
func NewRateLimitTracker(opts ...RateLimitTrackerOption) *RateLimitTracker {
	t := &RateLimitTracker{
		records:      make(map[string]RateLimitRecord),
		defaultAfter: DefaultRetryAfter,
		clock:        core.SystemClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkLimited records that model hit a rate limit now. A non-positive
// retryAfter uses the default.
func (t *RateLimitTracker) MarkLimited(model string, retryAfter time.Duration) RateLimitRecord {
	if retryAfter <= 0 {
		retryAfter = t.defaultAfter
	}
	rec := RateLimitRecord{
		Model:      model,
		LimitedAt:  t.clock.Now(),
		RetryAfter: retryAfter,
	}

	t.mu.Lock()
	t.records[model] = rec
	t.mu.Unlock()
	return rec
}

// IsLimited reports whether model is cooling down. Expired records are
// removed.
func (t *RateLimitTracker) IsLimited(model string) bool {
	_, ok := t.lookup(model)
	return ok
}

// Remaining returns how long model stays limited, zero if it is not.
func (t *RateLimitTracker) Remaining(model string) time.Duration {
	rec, ok := t.lookup(model)
	if !ok {
		return 0
	}
	return rec.Remaining(t.clock.Now())
}

func (t *RateLimitTracker) lookup(model string) (RateLimitRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[model]
	if !ok {
		return RateLimitRecord{}, false
	}
	if rec.Expired(t.clock.Now()) {
		delete(t.records, model)
		return RateLimitRecord{}, false
	}
	return rec, true
}

// Clear removes the record for model.
func (t *RateLimitTracker) Clear(model string) {
	t.mu.Lock()
	delete(t.records, model)
	t.mu.Unlock()
}

// Snapshot returns active records sorted by model. Expired records found
// during the scan are removed.
func (t *RateLimitTracker) Snapshot() []RateLimitRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make([]RateLimitRecord, 0, len(t.records))
	for model, rec := range t.records {
		if rec.Expired(now) {
			delete(t.records, model)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Len returns the number of stored records, expired or not.
func (t *RateLimitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
