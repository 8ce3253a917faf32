package geocode

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Defaults for the daily call budget.
const (
	DefaultDailyLimit = 1000
	DefaultWarnAt     = 800
)

// Usage is a snapshot of quota consumption.
type Usage struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Window    time.Time `json:"window_start"`
}

// Quota counts provider calls per calendar day. The window starts at
// midnight in the quota's location, UTC unless set.
type Quota struct {
	mu          sync.Mutex
	limit       int
	warnAt      int
	used        int
	windowStart time.Time
	warned      bool

	loc *time.Location
	now func() time.Time
}

// QuotaOption configures a Quota.
type QuotaOption func(*Quota)

// WithLocation sets the time zone that defines the calendar day.
func WithLocation(loc *time.Location) QuotaOption {
	return func(q *Quota) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// WithQuotaClock overrides the time source.
func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(q *Quota) { q.now = now }
}

// NewQuota allows limit calls per day and warns once when warnAt is reached.
func NewQuota(limit, warnAt int, opts ...QuotaOption) *Quota {
	q := &Quota{limit: limit, warnAt: warnAt, loc: time.UTC, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	q.windowStart = q.dayStart(q.now())
	return q
}

// Reserve claims one call. It fails with ErrQuotaExceeded once the window's
// budget is spent.
func (q *Quota) Reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.roll()
	if q.used >= q.limit {
		return eris.Wrapf(ErrQuotaExceeded, "%d/%d calls used", q.used, q.limit)
	}
	q.used++

	if !q.warned && q.warnAt > 0 && q.used >= q.warnAt {
		q.warned = true
		zap.L().Warn("geocode: approaching daily quota",
			zap.Int("quota_used", q.used),
			zap.Int("quota_limit", q.limit),
		)
	}
	return nil
}

// Used returns calls made in the current window.
func (q *Quota) Used() int { return q.Usage().Used }

// Remaining returns calls left in the current window.
func (q *Quota) Remaining() int { return q.Usage().Remaining }

// Limit returns the daily budget.
func (q *Quota) Limit() int { return q.limit }

// Usage returns a consistent snapshot.
func (q *Quota) Usage() Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll()
	return Usage{
		Used:      q.used,
		Limit:     q.limit,
		Remaining: max(0, q.limit-q.used),
		Window:    q.windowStart,
	}
}

func (q *Quota) roll() {
	if start := q.dayStart(q.now()); start.After(q.windowStart) {
		q.windowStart = start
		q.used = 0
		q.warned = false
	}
}

func (q *Quota) dayStart(t time.Time) time.Time {
	t = t.In(q.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, q.loc)
}
