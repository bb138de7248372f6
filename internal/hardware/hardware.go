// SPDX-License-Identifier: MIT

// Package hardware defines the contract the run controller uses to drive a
// Pixie-16-class digital pulse-processing crate.
//
// The vendor SDK that actually talks to the crate is an external
// collaborator: boot/init, parameter read/write, FIFO word counts and
// reads, and list-mode/histogram run control. This package only
// specifies the interface RunController depends on, plus a Sim
// implementation used by tests for running the controller without a
// physical crate attached.
package hardware

import (
	"context"
	"fmt"
)

// Interface is the hardware abstraction RunController drives. All methods
// may block for up to tens of milliseconds; callers should not hold locks
// across calls.
type Interface interface {
	// Boot initializes and synchronizes all modules. Called at startup and
	// on a reboot request.
	Boot(ctx context.Context, fast bool) error

	// ModuleCount reports the number of modules the interface was
	// constructed for.
	ModuleCount() int

	// FIFOWordCount returns the number of 32-bit words currently buffered
	// in module mod's hardware FIFO. A negative value is possible on some
	// SDK versions because the underlying counter is unsigned and can be
	// momentarily inconsistent; callers must treat negative as "zero but
	// suspicious".
	FIFOWordCount(ctx context.Context, mod int) (int, error)

	// ReadFIFO reads exactly n words from module mod's FIFO into dst[:n].
	// dst must have length >= n.
	ReadFIFO(ctx context.Context, mod int, dst []uint32, n int) error

	// ReadParameter reads a named DSP parameter for (mod, chan). chan may
	// be -1 for a module-level (non-channel) parameter.
	ReadParameter(ctx context.Context, mod, chanNum int, name string) (float64, error)

	// WriteParameter writes a named DSP parameter for (mod, chan) and, on
	// success, programs it into the DSP ("saves DSP").
	WriteParameter(ctx context.Context, mod, chanNum int, name string, value float64) error

	// ReadScalers pulls per-channel input/output count rates for mod.
	ReadScalers(ctx context.Context, mod int) (icr, ocr []float64, err error)

	// StartListModeRun begins list-mode acquisition across all modules.
	StartListModeRun(ctx context.Context) error

	// EndRun stops the currently running acquisition (list-mode or
	// histogram) across all modules.
	EndRun(ctx context.Context) error

	// StartHistogramRun begins an MCA histogram run across all modules.
	StartHistogramRun(ctx context.Context) error

	// ReadHistogram returns the current histogram counts for (mod, chan).
	ReadHistogram(ctx context.Context, mod, chanNum int) ([]uint32, error)

	// Close releases any resources (device handles, sockets) held by the
	// interface.
	Close() error
}

// ErrNotBooted is returned by operations that require Boot to have
// succeeded first.
var ErrNotBooted = fmt.Errorf("hardware: interface not booted")

// SlotExpecter supplies the expected hardware slot number for a module
// index, used by the SpillParser to validate event words. Implementations
// are typically backed by internal/slotmap.
type SlotExpecter interface {
	Expected(modIndex int) (slot int, ok bool)
}

// ParamTuner is an optional extension of Interface for parameter-tweaking
// utilities that are external collaborators (offset adjust, tau find,
// CSRA bit toggles): the core only needs to
// invoke them by name and report success/failure, not implement the
// underlying algorithms. A Interface that does not implement ParamTuner
// causes RunController to report those commands as unsupported.
type ParamTuner interface {
	AdjustOffsets(ctx context.Context, mod int) error
	FindTau(ctx context.Context, mod, chanNum int) (float64, error)
}

// TraceReader is an optional extension of Interface for `get_traces`,
// another external collaborator: trace capture is hardware-specific, so
// RunController only asks for raw samples and writes them to
// /tmp/traces.dat itself.
type TraceReader interface {
	ReadTraces(ctx context.Context, mod, chanNum int, threshold float64) ([]uint16, error)
}

// ErrUnsupported is returned for commands whose optional collaborator
// interface (ParamTuner, TraceReader) the configured Interface does not
// implement.
var ErrUnsupported = fmt.Errorf("hardware: operation not supported by this interface")
