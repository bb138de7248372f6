// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"fmt"

	"github.com/pkuNucExp/pixie16-daq/internal/sanitize"
)

// applyRequest is RunLoop's single entry point for everything that
// arrives on the request channel. Flag-setting requests (run, stop,
// reboot, ...) mutate Control and are consumed later in the same RunLoop
// iteration by the state machine in runloop.go. Immediate requests
// (status, dump, pread, ...) are validated against the precondition
// guards and executed here, replying synchronously.
func (rc *RunController) applyRequest(ctx context.Context, req Request) {
	switch req.Kind {
	case ReqRun:
		if rc.State().Busy() {
			reply(req, Reply{Err: fmt.Errorf("runctl: run refused, acquisition or MCA already running")})
			return
		}
		rc.control.mu.Lock()
		rc.control.recordData = true
		rc.control.startAcq = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqStartAcqNoRecord:
		if rc.State().Busy() {
			reply(req, Reply{Err: fmt.Errorf("runctl: run refused, acquisition or MCA already running")})
			return
		}
		rc.control.mu.Lock()
		rc.control.recordData = false
		rc.control.startAcq = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqTimedRun:
		if rc.State().Busy() {
			reply(req, Reply{Err: fmt.Errorf("runctl: run refused, acquisition or MCA already running")})
			return
		}
		seconds, err := parseFloatArg(req.Args, 0)
		if err != nil {
			reply(req, Reply{Err: err})
			return
		}
		rc.control.mu.Lock()
		rc.control.recordData = true
		rc.control.runTime = seconds
		rc.control.startAcq = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqStop:
		rc.control.mu.Lock()
		rc.control.stopAcq = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqForceSpill:
		if !rc.State().IsAcquiring() {
			reply(req, Reply{Err: fmt.Errorf("runctl: spill refused, acquisition not running")})
			return
		}
		rc.control.mu.Lock()
		rc.control.forceSpill = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqToggleShm:
		if rc.bcast != nil {
			rc.bcast.SetShmMode(!rc.bcast.ShmMode())
		}
		reply(req, Reply{})

	case ReqStartMca:
		rc.applyStartMca(req)

	case ReqReboot:
		if rc.State().Busy() {
			reply(req, Reply{Err: fmt.Errorf("runctl: reboot refused, acquisition or MCA running")})
			return
		}
		rc.control.mu.Lock()
		rc.control.reboot = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqSetOutputDir:
		rc.applyStringSetting(req, func(c *Control, v string) { c.outputDir = ensureTrailingSlash(v) })

	case ReqSetPrefix:
		if rc.outFile.CurrentPath() != "" {
			reply(req, Reply{Err: fmt.Errorf("runctl: prefix change refused, file open")})
			return
		}
		rc.applyStringSetting(req, func(c *Control, v string) { c.filePrefix = sanitize.SanitizeFilePrefix(v) })

	case ReqSetTitle:
		if rc.outFile.CurrentPath() != "" {
			reply(req, Reply{Err: fmt.Errorf("runctl: title change refused, file open")})
			return
		}
		title := stripOuterQuotes(firstArg(req.Args))
		if len(title) > 80 {
			title = title[:80]
		}
		rc.control.mu.Lock()
		rc.control.outputTitle = title
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqSetRunNum:
		if rc.outFile.CurrentPath() != "" {
			reply(req, Reply{Err: fmt.Errorf("runctl: run number change refused, file open")})
			return
		}
		n, err := parseIntArg(req.Args, 0)
		if err != nil {
			reply(req, Reply{Err: err})
			return
		}
		rc.control.mu.Lock()
		rc.control.nextRunNumber = n
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqSetStatsInterval:
		seconds, err := parseFloatArg(req.Args, 0)
		if err != nil {
			reply(req, Reply{Err: err})
			return
		}
		rc.statsHandler.SetDumpInterval(seconds)
		reply(req, Reply{})

	case ReqSetThresh:
		pct, err := parseFloatArg(req.Args, 0)
		if err != nil {
			reply(req, Reply{Err: err})
			return
		}
		rc.control.mu.Lock()
		rc.control.threshPercent = pct
		rc.control.threshWords = int(pct / 100 * float64(rc.cfg.FIFOMax))
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqToggleDebug:
		rc.control.mu.Lock()
		rc.control.debug = !rc.control.debug
		rc.control.mu.Unlock()
		rc.outFile.SetDebugMode(rc.control.Snapshot().debug)
		reply(req, Reply{})

	case ReqToggleQuiet:
		rc.control.mu.Lock()
		rc.control.quiet = !rc.control.quiet
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqStatus:
		s := rc.Status()
		reply(req, Reply{Text: formatStatus(s)})

	case ReqDump:
		rc.applyDump(ctx, req)

	case ReqSave:
		rc.applyDump(ctx, req)

	case ReqPRead:
		rc.applyParamIO(ctx, req, false, false)

	case ReqPWrite:
		rc.applyParamIO(ctx, req, true, false)

	case ReqPMRead:
		rc.applyParamIO(ctx, req, false, true)

	case ReqPMWrite:
		rc.applyParamIO(ctx, req, true, true)

	case ReqAdjustOffsets:
		rc.applyAdjustOffsets(ctx, req)

	case ReqFindTau:
		rc.applyFindTau(ctx, req)

	case ReqToggleCsraBit:
		rc.applyToggleCsraBit(ctx, req)

	case ReqToggleParamBit:
		rc.applyToggleParamBit(ctx, req)

	case ReqCsrTest:
		rc.applyCsrTest(req)

	case ReqBitTest:
		rc.applyBitTest(req)

	case ReqGetTraces:
		rc.applyGetTraces(ctx, req)

	case ReqKillAll:
		rc.control.mu.Lock()
		rc.control.killAll = true
		rc.control.mu.Unlock()
		reply(req, Reply{})

	case ReqQuit:
		rc.applyQuit(req)

	case ReqSegfault:
		rc.setState(StateTerminated)
		reply(req, Reply{Err: fmt.Errorf("runctl: segmentation fault pseudo-command")})

	default:
		reply(req, Reply{Err: fmt.Errorf("runctl: unhandled request kind %d", req.Kind)})
	}
}

func (rc *RunController) applyStartMca(req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: mca refused, acquisition already running")})
		return
	}
	seconds, basename := parseMcaArgs(req.Args)
	rc.control.mu.Lock()
	rc.control.mcaSeconds = seconds
	rc.control.mcaBasename = basename
	rc.control.startMca = true
	rc.control.mu.Unlock()
	reply(req, Reply{})
}

func (rc *RunController) applyQuit(req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: quit refused, acquisition or MCA running (use kill to force)")})
		return
	}
	rc.control.mu.Lock()
	rc.control.killAll = true
	rc.control.mu.Unlock()
	reply(req, Reply{})
}

func (rc *RunController) applyStringSetting(req Request, set func(c *Control, v string)) {
	v := firstArg(req.Args)
	rc.control.mu.Lock()
	set(rc.control, v)
	rc.control.mu.Unlock()
	reply(req, Reply{})
}
