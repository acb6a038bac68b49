// Package metric keeps short rolling histories of expvar counters for the status endpoint.
package metric

import (
	"container/list"
	"expvar"
	"strings"
	"sync"
	"time"
)

// Samples kept per history.  One more than an hour of minutes, since consumers chart the deltas
// between samples and the first sample has nothing to compare against.
const historyLen = 61

var (
	tickerMu    sync.Mutex
	tickerFuncs []func()
	tickerOnce  sync.Once
)

// AddTickerFunc registers f to be called once per minute.
func AddTickerFunc(f func()) {
	tickerOnce.Do(func() {
		go metricsTicker(time.Minute)
	})
	tickerMu.Lock()
	defer tickerMu.Unlock()
	tickerFuncs = append(tickerFuncs, f)
}

// metricsTicker calls the registered funcs once per interval.
func metricsTicker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	for range ticker.C {
		tickerMu.Lock()
		funcs := append([]func(){}, tickerFuncs...)
		tickerMu.Unlock()
		for _, f := range funcs {
			f()
		}
	}
}

// History samples an expvar and publishes the recent samples as a comma separated string.
type History struct {
	source expvar.Var
	target *expvar.String

	mu      sync.Mutex
	samples *list.List
}

// NewHistory creates a history of source published into target, sampled once per minute.
func NewHistory(source expvar.Var, target *expvar.String) *History {
	h := NewManualHistory(source, target)
	AddTickerFunc(h.Sample)
	return h
}

// NewManualHistory creates a history that is only sampled when Sample is called.
func NewManualHistory(source expvar.Var, target *expvar.String) *History {
	return &History{source: source, target: target, samples: list.New()}
}

// Sample records the current value of the source and updates the target.
func (h *History) Sample() {
	h.mu.Lock()
	h.samples.PushBack(h.source.String())
	if h.samples.Len() > historyLen {
		h.samples.Remove(h.samples.Front())
	}
	joined := joinStringList(h.samples)
	h.mu.Unlock()
	h.target.Set(joined)
}

// joinStringList joins a List containing strings by commas.
func joinStringList(listOfStrings *list.List) string {
	if listOfStrings.Len() == 0 {
		return ""
	}
	s := make([]string, 0, listOfStrings.Len())
	for e := listOfStrings.Front(); e != nil; e = e.Next() {
		s = append(s, e.Value.(string))
	}
	return strings.Join(s, ",")
}
