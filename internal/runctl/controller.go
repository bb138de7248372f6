// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkuNucExp/pixie16-daq/internal/broadcast"
	"github.com/pkuNucExp/pixie16-daq/internal/command"
	"github.com/pkuNucExp/pixie16-daq/internal/hardware"
	"github.com/pkuNucExp/pixie16-daq/internal/mca"
	"github.com/pkuNucExp/pixie16-daq/internal/outputfile"
	"github.com/pkuNucExp/pixie16-daq/internal/slotmap"
	"github.com/pkuNucExp/pixie16-daq/internal/spill"
	"github.com/pkuNucExp/pixie16-daq/internal/stats"
)

// requestQueueLen bounds the CommandLoop-to-RunLoop channel; RunLoop
// drains it every iteration, so this only needs to absorb a short burst
// of rapid typing.
const requestQueueLen = 16

// Config bundles the fixed-at-initialization parameters for a crate.
type Config struct {
	Modules    int
	Channels   int
	FIFOMax    int
	FIFOMin    int
	PollTries  int
	Slots      *slotmap.SlotMap
	OutputDir  string
	FilePrefix string
	Logger     *slog.Logger
}

// RunController hosts CommandLoop and RunLoop and owns all state: one
// struct owning config, a state machine, and the hardware it supervises.
type RunController struct {
	cfg Config
	hw  hardware.Interface

	control *Control
	requests chan Request

	stateMu sync.Mutex
	state   State

	buffer        *spill.Buffer
	partialEvents [][]uint32
	statsHandler  *stats.Handler
	outFile       *outputfile.File
	bcast         *broadcast.Client
	mcaAcc        *mca.Accumulator

	startMicros     int64
	lastSpillMicros int64
	acqDeadline     time.Time

	table []command.Spec
}

// New constructs a RunController. bcast may be nil (broadcasting
// disabled, e.g. in tests); hw must not be nil.
func New(cfg Config, hw hardware.Interface, bcast *broadcast.Client) (*RunController, error) {
	if hw == nil {
		return nil, fmt.Errorf("runctl: hardware interface is required")
	}
	if cfg.Modules <= 0 {
		return nil, fmt.Errorf("runctl: modules must be positive")
	}

	rc := &RunController{
		cfg:      cfg,
		hw:       hw,
		control:  NewControl(cfg.FIFOMax),
		requests: make(chan Request, requestQueueLen),
		state:    StateIdle,
		buffer:   spill.NewBuffer(cfg.Modules, cfg.FIFOMax),
		bcast:    bcast,
		mcaAcc:   mca.New(cfg.Modules, cfg.Channels),
	}
	rc.control.outputDir = cfg.OutputDir
	rc.control.filePrefix = cfg.FilePrefix
	rc.partialEvents = make([][]uint32, cfg.Modules)
	rc.statsHandler = stats.New(60, rc.onStatsDump)
	rc.outFile = outputfile.New()
	rc.table = rc.buildCommandTable()
	return rc, nil
}

// Submit enqueues req for RunLoop; used by CommandLoop and by cmd/*
// callers that want to drive the controller programmatically (tests).
func (rc *RunController) Submit(req Request) { send(rc.requests, req) }

// Call enqueues req and blocks for RunLoop's reply.
func (rc *RunController) Call(req Request) Reply { return call(rc.requests, req) }

// State returns the current acquisition state.
func (rc *RunController) State() State {
	rc.stateMu.Lock()
	defer rc.stateMu.Unlock()
	return rc.state
}

func (rc *RunController) setState(s State) {
	rc.stateMu.Lock()
	prev := rc.state
	rc.state = s
	rc.stateMu.Unlock()
	if prev != s {
		rc.logStructuredEvent("state_transition", "from", prev.String(), "to", s.String())
	}
}

// StatusSnapshot is the point-in-time summary printed by the `status`
// command and exposed to internal/health.
type StatusSnapshot struct {
	State       string
	Control     Control
	TotalTime   float64
	DataRate    float64
	RunNumber   int
	HadError    bool
	MCARunTime  float64
	FileOpen    string
}

// Status returns a StatusSnapshot for the `status` command.
func (rc *RunController) Status() StatusSnapshot {
	c := rc.control.Snapshot()
	return StatusSnapshot{
		State:      rc.State().String(),
		Control:    c,
		TotalTime:  rc.statsHandler.GetTotalTime(),
		DataRate:   rc.statsHandler.GetTotalDataRate(),
		RunNumber:  c.nextRunNumber,
		HadError:   c.hadError,
		MCARunTime: rc.mcaAcc.GetRunTimeInSeconds(),
		FileOpen:   rc.outFile.CurrentPath(),
	}
}

// Close tears the controller down: file, broadcast socket, stats, and
// hardware interface, in that order, as a single destructor rather than
// scattering teardown across callers.
func (rc *RunController) Close() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(rc.outFile.Close())
	if rc.bcast != nil {
		note(rc.bcast.Close())
	}
	rc.statsHandler.Clear()
	note(rc.hw.Close())
	return firstErr
}

func (rc *RunController) logf(format string, args ...interface{}) {
	if rc.cfg.Logger != nil {
		rc.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}

func (rc *RunController) logError(format string, args ...interface{}) {
	if rc.cfg.Logger != nil {
		rc.cfg.Logger.Error(fmt.Sprintf(format, args...))
	}
}

func (rc *RunController) logStructuredEvent(event string, attrs ...interface{}) {
	if rc.cfg.Logger != nil {
		allAttrs := make([]interface{}, 0, len(attrs)+2)
		allAttrs = append(allAttrs, "event", event)
		allAttrs = append(allAttrs, attrs...)
		rc.cfg.Logger.Info("runctl_event", allAttrs...)
	}
}

func (rc *RunController) onStatsDump(s stats.Snapshot) {
	rc.logStructuredEvent("stats_dump", "total_time", s.TotalTime, "data_rate", s.DataRate)
}

// expectedSlot resolves the expected slot number for module m, falling
// back to m itself when no slot map was configured.
func (rc *RunController) expectedSlot(m int) int {
	if rc.cfg.Slots == nil {
		return m
	}
	slot, ok := rc.cfg.Slots.Expected(m)
	if !ok {
		return m
	}
	return slot
}

// ctxOrBackground returns ctx if non-nil, else context.Background();
// hardware calls in RunLoop are all bounded by the caller's RunLoop
// context already, this just guards programmatic callers that pass nil
// in tests.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
