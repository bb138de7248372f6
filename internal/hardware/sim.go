// SPDX-License-Identifier: MIT

package hardware

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-memory Interface implementation used by tests. Each module has a FIFO modeled as a plain slice of
// pending words; test code pushes events onto it with PushEvent/PushWords
// and the run loop drains it exactly like real hardware.
type Sim struct {
	mu sync.Mutex

	modules  int
	booted   bool
	running  bool
	histRun  bool
	fifo     [][]uint32
	params   map[paramKey]float64
	hist     [][][]uint32 // hist[mod][chan] histogram counts
	icr, ocr [][]float64

	// FailFIFORead, when set for a module, makes the next ReadFIFO call for
	// that module return an error (simulates an SDK read failure).
	FailFIFORead map[int]bool

	// FailBoot forces Boot to return an error once.
	FailBoot bool
}

type paramKey struct {
	mod, chanNum int
	name         string
}

// NewSim creates a simulated crate with the given module/channel counts.
func NewSim(modules, channels int) *Sim {
	s := &Sim{
		modules:      modules,
		fifo:         make([][]uint32, modules),
		params:       make(map[paramKey]float64),
		hist:         make([][][]uint32, modules),
		icr:          make([][]float64, modules),
		ocr:          make([][]float64, modules),
		FailFIFORead: make(map[int]bool),
	}
	for m := 0; m < modules; m++ {
		s.hist[m] = make([][]uint32, channels)
		for c := 0; c < channels; c++ {
			s.hist[m][c] = make([]uint32, 32768)
		}
		s.icr[m] = make([]float64, channels)
		s.ocr[m] = make([]float64, channels)
	}
	return s
}

// PushWords appends raw words to module mod's simulated FIFO.
func (s *Sim) PushWords(mod int, words ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fifo[mod] = append(s.fifo[mod], words...)
}

func (s *Sim) Boot(ctx context.Context, fast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBoot {
		s.FailBoot = false
		return fmt.Errorf("hardware: simulated boot failure")
	}
	s.booted = true
	return nil
}

func (s *Sim) ModuleCount() int { return s.modules }

func (s *Sim) FIFOWordCount(ctx context.Context, mod int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules {
		return 0, fmt.Errorf("hardware: module %d out of range", mod)
	}
	return len(s.fifo[mod]), nil
}

func (s *Sim) ReadFIFO(ctx context.Context, mod int, dst []uint32, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFIFORead[mod] {
		return fmt.Errorf("hardware: simulated FIFO read failure on module %d", mod)
	}
	if mod < 0 || mod >= s.modules {
		return fmt.Errorf("hardware: module %d out of range", mod)
	}
	if n > len(s.fifo[mod]) {
		return fmt.Errorf("hardware: requested %d words, only %d available", n, len(s.fifo[mod]))
	}
	if len(dst) < n {
		return fmt.Errorf("hardware: destination buffer too small")
	}
	copy(dst[:n], s.fifo[mod][:n])
	s.fifo[mod] = s.fifo[mod][n:]
	return nil
}

func (s *Sim) ReadParameter(ctx context.Context, mod, chanNum int, name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[paramKey{mod, chanNum, name}], nil
}

func (s *Sim) WriteParameter(ctx context.Context, mod, chanNum int, name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[paramKey{mod, chanNum, name}] = value
	return nil
}

func (s *Sim) ReadScalers(ctx context.Context, mod int) (icr, ocr []float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules {
		return nil, nil, fmt.Errorf("hardware: module %d out of range", mod)
	}
	iOut := make([]float64, len(s.icr[mod]))
	oOut := make([]float64, len(s.ocr[mod]))
	copy(iOut, s.icr[mod])
	copy(oOut, s.ocr[mod])
	return iOut, oOut, nil
}

func (s *Sim) StartListModeRun(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return ErrNotBooted
	}
	s.running = true
	return nil
}

func (s *Sim) EndRun(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.histRun = false
	return nil
}

func (s *Sim) StartHistogramRun(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.booted {
		return ErrNotBooted
	}
	s.histRun = true
	return nil
}

func (s *Sim) ReadHistogram(ctx context.Context, mod, chanNum int) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules || chanNum < 0 || chanNum >= len(s.hist[mod]) {
		return nil, fmt.Errorf("hardware: channel (%d,%d) out of range", mod, chanNum)
	}
	out := make([]uint32, len(s.hist[mod][chanNum]))
	copy(out, s.hist[mod][chanNum])
	return out, nil
}

func (s *Sim) Close() error { return nil }

// AdjustOffsets implements ParamTuner: it just nudges every channel's
// simulated OFFSET parameter toward zero, a stand-in for the real
// SDK's offset-adjust routine.
func (s *Sim) AdjustOffsets(ctx context.Context, mod int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules {
		return fmt.Errorf("hardware: module %d out of range", mod)
	}
	for k := range s.params {
		if k.mod == mod && k.name == "OFFSET" {
			s.params[k] = 0
		}
	}
	return nil
}

// FindTau implements ParamTuner with a fixed simulated decay constant.
func (s *Sim) FindTau(ctx context.Context, mod, chanNum int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules {
		return 0, fmt.Errorf("hardware: module %d out of range", mod)
	}
	return 5.0, nil
}

// ReadTraces implements TraceReader with a synthetic flat trace.
func (s *Sim) ReadTraces(ctx context.Context, mod, chanNum int, threshold float64) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod < 0 || mod >= s.modules {
		return nil, fmt.Errorf("hardware: module %d out of range", mod)
	}
	trace := make([]uint16, 100)
	for i := range trace {
		trace[i] = 1000
	}
	return trace, nil
}
