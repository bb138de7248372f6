// SPDX-License-Identifier: MIT

package runctl

import "sync"

// Control holds the run controller's control state: requested actions,
// sticky modes, and output routing. A channel of typed Request values
// (see request.go) is the only path into it: only RunLoop ever drains
// requests and applies them to Control; CommandLoop writes Control
// directly only to clear the error flag (ClearError), and otherwise only
// enqueues requests and reads Control for status/precondition display. A single mutex guards the whole struct because
// several fields (strings, counters) don't have a convenient lock-free
// representation, and RunLoop's per-iteration read of the whole struct is
// cheap regardless.
type Control struct {
	mu sync.Mutex

	// Requested actions: cleared by RunLoop once acted upon.
	startAcq    bool
	stopAcq     bool
	reboot      bool
	forceSpill  bool
	startMca    bool
	killAll     bool

	// Sticky modes.
	recordData bool
	shmMode    bool
	quiet      bool
	debug      bool
	bootFast   bool

	// Timed-run / MCA duration.
	runTime    float64 // seconds; <=0 means unbounded
	mcaSeconds float64 // 0 means unbounded
	mcaBasename string

	// Output routing.
	outputDir     string
	filePrefix    string
	nextRunNumber int
	outputTitle   string
	threshPercent float64
	threshWords   int

	hadError bool
}

// NewControl creates a Control with spec-reasonable defaults.
func NewControl(fifoMax int) *Control {
	return &Control{
		recordData:    true,
		outputDir:     "./",
		filePrefix:    "run",
		nextRunNumber: 1,
		threshPercent: 50,
		threshWords:   fifoMax / 2,
	}
}

func (c *Control) snapshot() Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c
	cp.mu = sync.Mutex{}
	return cp
}

// Snapshot returns a copy of Control's fields for status display and
// precondition checks, safe to read without further locking.
func (c *Control) Snapshot() Control { return c.snapshot() }

// HadError reports the latched run-scope-fatal flag.
func (c *Control) HadError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hadError
}

// ClearError clears the latched error flag on the next operator command —
// CommandLoop calls it once per accepted command.
func (c *Control) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hadError = false
}

func (c *Control) setError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hadError = true
}
