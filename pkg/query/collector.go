package query

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/inbucket/mailsync/pkg/metric"
	"github.com/rs/zerolog"
)

var (
	collectCompleted   = time.Now()
	collectCompletedMu sync.RWMutex

	// History counters
	expEntries        = new(expvar.Int)
	expCollectedTotal = new(expvar.Int)

	// History rendered as comma delimited string
	expEntriesHist   = new(expvar.String)
	expCollectedHist = new(expvar.String)
)

func init() {
	metric.NewHistory(expEntries, expEntriesHist)
	metric.NewHistory(expCollectedTotal, expCollectedHist)
}

// Collector removes in-memory entries that have not been read for longer than the retain window
// of their resource kind.  It never touches the local store.  Entries with a running
// revalidation or an unconfirmed mutation are kept.
type Collector struct {
	cache    *Cache
	interval time.Duration
	logger   zerolog.Logger
}

// NewCollector configures a collector for c running every interval.
func NewCollector(c *Cache, interval time.Duration) *Collector {
	return &Collector{
		cache:    c,
		interval: interval,
		logger:   c.logger.With().Str("phase", "collector").Logger(),
	}
}

// Enabled reports whether the collector has a positive interval.
func (col *Collector) Enabled() bool {
	return col.interval > 0
}

// Run collects once per interval until ctx is canceled.
func (col *Collector) Run(ctx context.Context) {
	col.logger.Info().Dur("interval", col.interval).Msg("Idle entry collector started")
	ticker := time.NewTicker(col.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			col.logger.Debug().Msg("Idle entry collector shut down")
			return
		case <-ticker.C:
			if n := col.Collect(); n > 0 {
				col.logger.Debug().Int("collected", n).Msg("Collected idle entries")
			}
		}
	}
}

// Collect does a single pass over the in-memory entries and returns how many were removed.
func (col *Collector) Collect() int {
	c := col.cache
	now := c.now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.entries {
		if c.pending[k] > 0 {
			continue
		}
		if _, running := c.flights[k]; running {
			continue
		}
		retain := c.policy(k.Resource).RetainFor
		if retain > 0 && now.Sub(e.accessed) > retain {
			delete(c.entries, k)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	expCollectedTotal.Add(int64(removed))
	expEntries.Set(int64(remaining))
	setCollectCompleted(time.Now())
	return removed
}

func setCollectCompleted(t time.Time) {
	collectCompletedMu.Lock()
	defer collectCompletedMu.Unlock()
	collectCompleted = t
}

func getCollectCompleted() time.Time {
	collectCompletedMu.RLock()
	defer collectCompletedMu.RUnlock()
	return collectCompleted
}

func secondsSinceCollect() any {
	return time.Since(getCollectCompleted()) / time.Second
}
