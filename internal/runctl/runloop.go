// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"fmt"
	"time"

	"github.com/pkuNucExp/pixie16-daq/internal/spill"
)

// idleSleep is how long RunLoop sleeps when neither acquisition nor MCA
// is active.
const idleSleep = 1 * time.Second

// rescueSleep is the pause during drain rescue after EndRun.
const rescueSleep = 1 * time.Second

// RunLoop is RunController's cooperative-polling activity: each iteration
// it drains pending requests, evaluates state transitions in priority
// order, and — while acquisition is running — drives one SpillDrainer
// cycle.
func (rc *RunController) RunLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rc.drainRequests(ctx)

		c := rc.control.Snapshot()
		state := rc.State()

		switch {
		case c.killAll:
			rc.handleKillAll(ctx)
			return

		case c.reboot && !state.Busy():
			rc.handleReboot(ctx)

		case c.startMca && state == StateIdle:
			rc.handleStartMca(ctx)

		case state == StateMcaRunning:
			rc.stepMca(ctx)

		case c.startAcq && state == StateIdle:
			rc.handleStartAcq(ctx)

		case state == StateAcqRunning:
			rc.runAcqIteration(ctx)

		default:
			time.Sleep(idleSleep)
		}
	}
}

// drainRequests applies every Request currently queued without blocking.
func (rc *RunController) drainRequests(ctx context.Context) {
	for {
		select {
		case req := <-rc.requests:
			rc.applyRequest(ctx, req)
		default:
			return
		}
	}
}

func (rc *RunController) handleKillAll(ctx context.Context) {
	state := rc.State()
	if state.Busy() {
		_ = rc.hw.EndRun(ctx)
		rc.statsHandler.Dump()
		_ = rc.outFile.Close()
	}
	rc.setState(StateTerminated)
	rc.logStructuredEvent("kill_all")
}

func (rc *RunController) handleReboot(ctx context.Context) {
	rc.setState(StateRebooting)
	if err := rc.hw.Boot(ctx, rc.control.Snapshot().bootFast); err != nil {
		rc.logError("reboot failed: %v", err)
		rc.control.setError()
	}
	rc.clearRequestFlag(func(c *Control) { c.reboot = false })
	rc.setState(StateIdle)
}

func (rc *RunController) handleStartMca(ctx context.Context) {
	rc.setState(StateMcaStarting)
	rc.mcaAcc.Start()
	if err := rc.hw.StartHistogramRun(ctx); err != nil {
		rc.logError("start MCA failed: %v", err)
		rc.control.setError()
		rc.clearRequestFlag(func(c *Control) { c.startMca = false })
		rc.setState(StateIdle)
		return
	}
	rc.clearRequestFlag(func(c *Control) { c.startMca = false })
	rc.setState(StateMcaRunning)
}

func (rc *RunController) stepMca(ctx context.Context) {
	c := rc.control.Snapshot()
	deadlineReached := c.mcaSeconds > 0 && rc.mcaAcc.GetRunTimeInSeconds() >= c.mcaSeconds

	if deadlineReached || c.stopAcq {
		_ = rc.hw.EndRun(ctx)
		rc.mcaAcc.Stop()
		rc.clearRequestFlag(func(c *Control) { c.stopAcq = false })
		rc.setState(StateIdle)
		return
	}

	if err := rc.mcaAcc.Step(ctx, rc.hw); err != nil {
		rc.logError("mca step failed: %v", err)
		_ = rc.hw.EndRun(ctx)
		rc.mcaAcc.Stop()
		rc.control.setError()
		rc.setState(StateIdle)
	}
}

func (rc *RunController) handleStartAcq(ctx context.Context) {
	rc.setState(StateAcqStarting)
	c := rc.control.Snapshot()

	if c.recordData {
		ok, err := rc.outFile.OpenNewFile(c.outputDir, c.filePrefix, c.outputTitle, c.nextRunNumber, false)
		if err != nil || !ok {
			rc.logError("open output file failed: %v", err)
			rc.control.setError()
			rc.clearRequestFlag(func(c *Control) { c.startAcq = false })
			rc.setState(StateIdle)
			return
		}
		if rc.bcast != nil {
			_ = rc.bcast.SendControl("$OPEN_FILE")
		}
	}

	if err := rc.hw.StartListModeRun(ctx); err != nil {
		rc.logError("start list-mode run failed: %v", err)
		rc.control.setError()
		if c.recordData {
			_ = rc.outFile.Close()
		}
		rc.clearRequestFlag(func(c *Control) { c.startAcq = false })
		rc.setState(StateIdle)
		return
	}

	rc.statsHandler.Clear()
	rc.buffer.Reset()
	for m := range rc.partialEvents {
		rc.partialEvents[m] = nil
	}
	rc.startMicros = nowMicros()
	rc.lastSpillMicros = 0

	if c.runTime > 0 {
		rc.acqDeadline = time.Now().Add(time.Duration(c.runTime * float64(time.Second)))
	}

	rc.clearRequestFlag(func(c *Control) { c.startAcq = false })
	rc.setState(StateAcqRunning)
}

// runAcqIteration performs one SpillDrainer cycle, or, if a stop/deadline
// condition is met, transitions to ACQ_STOPPING and finishes the run.
func (rc *RunController) runAcqIteration(ctx context.Context) {
	c := rc.control.Snapshot()

	deadlineReached := !rc.acqDeadline.IsZero() && time.Now().After(rc.acqDeadline)
	if c.stopAcq || deadlineReached {
		rc.finishAcq(ctx)
		return
	}

	if err := rc.drainOneSpill(ctx, c); err != nil {
		rc.logError("spill drain aborted: %v", err)
		rc.control.setError()
		rc.clearRequestFlag(func(c *Control) { c.stopAcq = true })
	}
}

func (rc *RunController) finishAcq(ctx context.Context) {
	rc.setState(StateAcqStopping)

	if err := rc.hw.EndRun(ctx); err != nil {
		rc.logError("end run failed: %v", err)
	}

	for m, frag := range rc.partialEvents {
		if len(frag) > 0 {
			rc.logf("module %d has %d words outstanding at run end (partial evt)", m, len(frag))
		}
	}

	time.Sleep(rescueSleep)
	rc.statsHandler.Dump()

	c := rc.control.Snapshot()
	if c.recordData {
		_ = rc.outFile.Close()
		if rc.bcast != nil {
			_ = rc.bcast.SendControl("$CLOSE_FILE")
		}
		rc.control.mu.Lock()
		rc.control.nextRunNumber++
		rc.control.mu.Unlock()
	}

	rc.clearRequestFlag(func(c *Control) { c.stopAcq = false })
	rc.acqDeadline = time.Time{}
	rc.setState(StateIdle)
}

// drainOneSpill implements the per-cycle FIFO drain-and-broadcast pipeline.
func (rc *RunController) drainOneSpill(ctx context.Context, c Control) error {
	maxWords, err := rc.waitForWork(ctx, c)
	if err != nil {
		return err
	}
	if maxWords <= c.threshWords && !c.forceSpill {
		return nil
	}
	rc.clearRequestFlag(func(c *Control) { c.forceSpill = false })

	rc.buffer.Reset()

	for m := 0; m < rc.cfg.Modules; m++ {
		if err := rc.drainModule(ctx, m); err != nil {
			return err
		}
	}

	rc.recordTiming()

	total := rc.buffer.TotalWords()
	words := rc.buffer.Words()

	if c.recordData {
		if err := rc.writeSpill(words); err != nil {
			return err
		}
	}
	rc.broadcastSpill(words, total)
	return nil
}

// waitForWork polls FIFO word counts for up to PollTries iterations,
// breaking once the max exceeds threshWords.
func (rc *RunController) waitForWork(ctx context.Context, c Control) (int, error) {
	max := 0
	tries := rc.cfg.PollTries
	if tries <= 0 {
		tries = 1
	}
	for i := 0; i < tries; i++ {
		max = 0
		for m := 0; m < rc.cfg.Modules; m++ {
			n, err := rc.hw.FIFOWordCount(ctx, m)
			if err != nil {
				return 0, fmt.Errorf("runctl: FIFO word count module %d: %w", m, err)
			}
			if n < 0 {
				rc.logf("module %d reported negative FIFO word count %d, treating as 0", m, n)
				n = 0
			}
			if n > max {
				max = n
			}
		}
		if max > c.threshWords {
			break
		}
	}
	return max, nil
}

// drainModule reads one module's FIFO into the spill buffer.
func (rc *RunController) drainModule(ctx context.Context, m int) error {
	if err := rc.buffer.BeginModule(m); err != nil {
		return fmt.Errorf("runctl: begin module %d: %w", m, err)
	}

	n, err := rc.hw.FIFOWordCount(ctx, m)
	if err != nil {
		return fmt.Errorf("runctl: FIFO word count module %d: %w", m, err)
	}
	if n < 0 {
		n = 0
	}

	if n < rc.cfg.FIFOMin {
		rc.buffer.EndModule()
		return nil
	}
	if n >= rc.cfg.FIFOMax {
		return fmt.Errorf("runctl: module %d FIFO full (%d words >= FIFOMax %d)", m, n, rc.cfg.FIFOMax)
	}

	if err := rc.buffer.AppendWords(rc.partialEvents[m]); err != nil {
		return fmt.Errorf("runctl: append partial-event prefix module %d: %w", m, err)
	}

	fresh := make([]uint32, n)
	if err := rc.hw.ReadFIFO(ctx, m, fresh, n); err != nil {
		return fmt.Errorf("runctl: read FIFO module %d: %w", m, err)
	}
	if err := rc.buffer.AppendWords(fresh); err != nil {
		return fmt.Errorf("runctl: append FIFO words module %d: %w", m, err)
	}
	rc.partialEvents[m] = nil

	payload := rc.buffer.CurrentPayload()
	res := spill.ParseModule(payload, m, rc.expectedSlot(m))

	switch res.Outcome {
	case spill.OutcomeClean:
		// no-op

	case spill.OutcomePartial:
		if err := rc.buffer.TruncateTail(len(res.Partial)); err != nil {
			return fmt.Errorf("runctl: truncate partial tail module %d: %w", m, err)
		}
		frag := make([]uint32, len(res.Partial))
		copy(frag, res.Partial)
		rc.partialEvents[m] = frag

	case spill.OutcomeCorrupt:
		rc.logError("corruption detected in module %d: %v\n%s", m, res.Err, res.Diagnostic)
		return fmt.Errorf("runctl: corrupt data module %d: %w", m, res.Err)
	}

	for _, ev := range res.Events {
		rc.statsHandler.AddEvent(ev.Mod, ev.Channel, ev.Bytes)
	}

	rc.buffer.EndModule()
	return nil
}

func (rc *RunController) recordTiming() {
	now := nowMicros()
	spillTime := now - rc.startMicros
	durSpill := spillTime - rc.lastSpillMicros
	rc.lastSpillMicros = spillTime

	if rc.statsHandler.AddTime(float64(durSpill) / 1e6) {
		for m := 0; m < rc.cfg.Modules; m++ {
			icr, ocr, err := rc.hw.ReadScalers(context.Background(), m)
			if err == nil {
				rc.statsHandler.SetXiaRates(m, icr, ocr)
			}
		}
		rc.statsHandler.Dump()
	}
}

func (rc *RunController) writeSpill(words []uint32) error {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[4*i] = byte(w)
		buf[4*i+1] = byte(w >> 8)
		buf[4*i+2] = byte(w >> 16)
		buf[4*i+3] = byte(w >> 24)
	}
	if _, err := rc.outFile.Write(buf); err != nil {
		return fmt.Errorf("runctl: write spill: %w", err)
	}
	if rc.bcast != nil {
		_ = rc.outFile.SendPacket(rc.bcast)
	}
	return nil
}

func (rc *RunController) broadcastSpill(words []uint32, total int) {
	if rc.bcast == nil {
		return
	}
	if rc.bcast.ShmMode() {
		_ = rc.bcast.SendSpill(words[:total])
	}
}

// clearRequestFlag applies fn to Control under lock; used after RunLoop
// finishes acting on a one-shot request flag.
func (rc *RunController) clearRequestFlag(fn func(c *Control)) {
	rc.control.mu.Lock()
	fn(rc.control)
	rc.control.mu.Unlock()
}

// nowMicros is a var so tests can stub elapsed-time-sensitive behavior;
// production code always uses the real clock.
var nowMicros = func() int64 {
	return time.Now().UnixMicro()
}
