// SPDX-License-Identifier: MIT

// Package stats implements the per-module, per-channel event and byte
// counters the run controller's status bar and health endpoint read from,
// using an accumulate-then-snapshot-on-interval shape.
package stats

import "sync"

// ChannelCounts holds the accumulated counters for one (module, channel)
// pair.
type ChannelCounts struct {
	Events uint64
	Bytes  uint64
	ICR    float64 // last input count rate reported by ReadScalers
	OCR    float64 // last output count rate reported by ReadScalers
}

// Handler accumulates per-module, per-channel event/byte counters and a
// wall-time accumulator that fires a dump once per configured interval.
//
// All exported methods are safe for concurrent use, though in practice only
// RunLoop calls them — RunLoop owns the Handler for the life of a run.
type Handler struct {
	mu            sync.Mutex
	counts        map[key]*ChannelCounts
	dumpInterval  float64 // seconds
	accumulated   float64 // seconds since last dump
	totalTime     float64 // seconds since Clear (run start)
	lastIntervalBytes uint64
	lastIntervalRate  float64
	dumpFunc      func(snapshot Snapshot)
}

type key struct {
	mod, chanNum int
}

// Snapshot is an immutable copy of accumulated counters, passed to the
// configured dump callback.
type Snapshot struct {
	Counts    map[[2]int]ChannelCounts
	TotalTime float64
	DataRate  float64 // bytes/s averaged over the interval just completed
}

// New creates a Handler with the given dump interval in seconds. dumpFunc
// may be nil (Dump then does nothing beyond clearing rate snapshots).
func New(dumpIntervalSeconds float64, dumpFunc func(Snapshot)) *Handler {
	return &Handler{
		counts:       make(map[key]*ChannelCounts),
		dumpInterval: dumpIntervalSeconds,
		dumpFunc:     dumpFunc,
	}
}

// SetDumpInterval changes the dump interval (operator `stats` command).
func (h *Handler) SetDumpInterval(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dumpInterval = seconds
}

// AddEvent records one non-virtual event for (mod, chan).
func (h *Handler) AddEvent(mod, chanNum, bytes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.entry(mod, chanNum)
	c.Events++
	c.Bytes += uint64(bytes)
	h.lastIntervalBytes += uint64(bytes)
}

// SetXiaRates stores the last-read input/output count rates for each
// channel of mod, for status display.
func (h *Handler) SetXiaRates(mod int, icr, ocr []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range icr {
		entry := h.entry(mod, c)
		entry.ICR = icr[c]
		if c < len(ocr) {
			entry.OCR = ocr[c]
		}
	}
}

// AddTime accumulates elapsed seconds and reports whether the configured
// dump interval has elapsed.
func (h *Handler) AddTime(seconds float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accumulated += seconds
	h.totalTime += seconds
	if h.dumpInterval > 0 && h.accumulated >= h.dumpInterval {
		return true
	}
	return false
}

// Dump invokes the configured dump callback with a snapshot, then clears
// the rate accumulator (mirrors spec: "dump + clear rate snapshots").
// Idempotent: calling it with nothing accumulated is harmless.
func (h *Handler) Dump() {
	h.mu.Lock()
	rate := 0.0
	if h.accumulated > 0 {
		rate = float64(h.lastIntervalBytes) / h.accumulated
	}
	snap := Snapshot{
		Counts:    h.snapshotCountsLocked(),
		TotalTime: h.totalTime,
		DataRate:  rate,
	}
	h.lastIntervalRate = rate
	fn := h.dumpFunc
	h.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	h.ClearRates()
}

// ClearRates resets the per-interval accumulator (bytes and elapsed time
// since the last dump) without touching cumulative totals.
func (h *Handler) ClearRates() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accumulated = 0
	h.lastIntervalBytes = 0
}

// ClearTotals resets cumulative per-channel event/byte counters and the
// total-time accumulator, but not the configured dump interval.
func (h *Handler) ClearTotals() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make(map[key]*ChannelCounts)
	h.totalTime = 0
}

// Clear resets everything: totals and rates. Called on new-run open.
func (h *Handler) Clear() {
	h.ClearTotals()
	h.ClearRates()
}

// GetTotalTime returns the accumulated run time in seconds.
func (h *Handler) GetTotalTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalTime
}

// GetTotalDataRate returns the most recently dumped aggregate data rate in
// bytes/s.
func (h *Handler) GetTotalDataRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastIntervalRate
}

// Snapshot returns a point-in-time copy of all counters without dumping or
// clearing anything, for the health endpoint.
func (h *Handler) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Counts:    h.snapshotCountsLocked(),
		TotalTime: h.totalTime,
		DataRate:  h.lastIntervalRate,
	}
}

func (h *Handler) entry(mod, chanNum int) *ChannelCounts {
	k := key{mod, chanNum}
	c, ok := h.counts[k]
	if !ok {
		c = &ChannelCounts{}
		h.counts[k] = c
	}
	return c
}

func (h *Handler) snapshotCountsLocked() map[[2]int]ChannelCounts {
	out := make(map[[2]int]ChannelCounts, len(h.counts))
	for k, v := range h.counts {
		out[[2]int{k.mod, k.chanNum}] = *v
	}
	return out
}
