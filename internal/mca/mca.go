// SPDX-License-Identifier: MIT

// Package mca implements the histogram-mode accumulator described in spec
// §4.7: while the crate runs in MCA mode, each module's onboard histogram
// memory is periodically read back and accumulated per (module, channel),
// rather than parsed as list-mode event words.
//
// Reference: grounded on internal/stats.Handler's accumulate-then-snapshot
// shape, adapted from event counters to fixed-size histogram arrays.
package mca

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HistogramLen is the number of bins XIA's onboard MCA memory exposes per
// channel.
const HistogramLen = 32768

// Reader is the subset of hardware.Interface the accumulator needs.
type Reader interface {
	ReadHistogram(ctx context.Context, mod, chanNum int) ([]uint32, error)
}

// Accumulator owns one histogram per (module, channel) and the run-time
// clock for an MCA-mode acquisition.
type Accumulator struct {
	mu         sync.Mutex
	modules    int
	channels   int
	histograms map[key][]uint32
	startedAt  time.Time
	running    bool
}

type key struct{ mod, chanNum int }

// New creates an Accumulator sized for modules*channels histograms.
func New(modules, channels int) *Accumulator {
	return &Accumulator{
		modules:    modules,
		channels:   channels,
		histograms: make(map[key][]uint32),
	}
}

// Start resets all histograms to zero and records the run start time.
func (a *Accumulator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.histograms = make(map[key][]uint32)
	for m := 0; m < a.modules; m++ {
		for c := 0; c < a.channels; c++ {
			a.histograms[key{m, c}] = make([]uint32, HistogramLen)
		}
	}
	a.startedAt = timeNow()
	a.running = true
}

// Stop marks the accumulator idle; histograms remain readable until the
// next Start.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
}

// Step reads every module/channel histogram once via r and folds the
// result into the running totals: accumulation is additive across Step
// calls, not a replace. It returns the first read error encountered,
// having still applied every successful read.
func (a *Accumulator) Step(ctx context.Context, r Reader) error {
	var firstErr error
	for m := 0; m < a.modules; m++ {
		for c := 0; c < a.channels; c++ {
			hist, err := r.ReadHistogram(ctx, m, c)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("mca: read histogram mod=%d chan=%d: %w", m, c, err)
				}
				continue
			}
			a.accumulate(m, c, hist)
		}
	}
	return firstErr
}

func (a *Accumulator) accumulate(mod, chanNum int, fresh []uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{mod, chanNum}
	total := a.histograms[k]
	if total == nil {
		total = make([]uint32, HistogramLen)
		a.histograms[k] = total
	}
	for i := 0; i < len(fresh) && i < len(total); i++ {
		total[i] += fresh[i]
	}
}

// Histogram returns a copy of the accumulated histogram for (mod, chanNum).
func (a *Accumulator) Histogram(mod, chanNum int) []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	src := a.histograms[key{mod, chanNum}]
	out := make([]uint32, len(src))
	copy(out, src)
	return out
}

// GetRunTimeInSeconds reports elapsed wall time since Start. Unlike
// list-mode, the MCA run clock is wall time rather than spill-accumulated
// time, since there is no per-spill boundary.
func (a *Accumulator) GetRunTimeInSeconds() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startedAt.IsZero() {
		return 0
	}
	return timeNow().Sub(a.startedAt).Seconds()
}

// Running reports whether the accumulator believes MCA mode is active.
func (a *Accumulator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// timeNow is a var so tests can stub elapsed-time calculations.
var timeNow = time.Now
