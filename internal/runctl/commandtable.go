// SPDX-License-Identifier: MIT

package runctl

import (
	"fmt"

	"github.com/pkuNucExp/pixie16-daq/internal/command"
)

// buildCommandTable wires every operator command row to a
// command.Spec whose Handler submits or calls the matching Request. Every
// Handler returns only the transport-level error (enqueue failed, etc.);
// the Request's own precondition/validation errors are printed from the
// Reply and do not make Dispatch treat the command as malformed.
func (rc *RunController) buildCommandTable() []command.Spec {
	return []command.Spec{
		{Name: "run", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqRun)},
		{Name: "startacq", Aliases: []string{"startvme"}, MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqStartAcqNoRecord)},
		{Name: "timedrun", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqTimedRun)},
		{Name: "stop", Aliases: []string{"stopacq", "stopvme"}, MinArgs: 0, MaxArgs: 0, Handler: rc.submitHandler(ReqStop)},
		{Name: "spill", Aliases: []string{"hup"}, MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqForceSpill)},
		{Name: "shm", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqToggleShm)},
		{Name: "mca", MinArgs: 0, MaxArgs: 2, Handler: rc.submitHandler(ReqStartMca)},
		{Name: "reboot", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqReboot)},
		{Name: "fdir", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqSetOutputDir)},
		{Name: "prefix", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqSetPrefix)},
		{Name: "title", MinArgs: 1, MaxArgs: -1, Handler: rc.callHandler(ReqSetTitle)},
		{Name: "runnum", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqSetRunNum)},
		{Name: "stats", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqSetStatsInterval)},
		{Name: "thresh", MinArgs: 1, MaxArgs: 1, Handler: rc.callHandler(ReqSetThresh)},
		{Name: "debug", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqToggleDebug)},
		{Name: "quiet", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqToggleQuiet)},
		{Name: "status", MinArgs: 0, MaxArgs: 0, Handler: rc.printingCallHandler(ReqStatus)},
		{Name: "dump", MinArgs: 0, MaxArgs: 1, Handler: rc.printingCallHandler(ReqDump)},
		{Name: "save", MinArgs: 0, MaxArgs: 1, Handler: rc.printingCallHandler(ReqSave)},

		{
			Name: "pread", MinArgs: 2, MaxArgs: 3,
			ArgNames: dumpedParamNames,
			Handler:  rc.printingCallHandler(ReqPRead),
		},
		{
			Name: "pwrite", MinArgs: 4, MaxArgs: 4,
			ArgNames: dumpedParamNames,
			Handler:  rc.printingCallHandler(ReqPWrite),
		},
		{
			Name: "pmread", MinArgs: 1, MaxArgs: 2,
			ArgNames: dumpedParamNames,
			Handler:  rc.printingCallHandler(ReqPMRead),
		},
		{
			Name: "pmwrite", MinArgs: 3, MaxArgs: 3,
			ArgNames: dumpedParamNames,
			Handler:  rc.printingCallHandler(ReqPMWrite),
		},

		{Name: "adjust_offsets", MinArgs: 1, MaxArgs: 1, Handler: rc.printingCallHandler(ReqAdjustOffsets)},
		{Name: "find_tau", MinArgs: 2, MaxArgs: 2, Handler: rc.printingCallHandler(ReqFindTau)},
		{Name: "toggle", MinArgs: 3, MaxArgs: 3, Handler: rc.printingCallHandler(ReqToggleCsraBit)},
		{Name: "toggle_bit", MinArgs: 4, MaxArgs: 4, Handler: rc.printingCallHandler(ReqToggleParamBit)},
		{Name: "csr_test", MinArgs: 1, MaxArgs: 1, Handler: rc.printingCallHandler(ReqCsrTest)},
		{Name: "bit_test", MinArgs: 2, MaxArgs: 2, Handler: rc.printingCallHandler(ReqBitTest)},
		{Name: "get_traces", MinArgs: 2, MaxArgs: 3, Handler: rc.printingCallHandler(ReqGetTraces)},

		{Name: "kill", MinArgs: 0, MaxArgs: 0, Handler: rc.submitHandler(ReqKillAll)},
		{Name: "quit", Aliases: []string{"exit"}, MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqQuit)},
		{Name: "_SIGSEGV_", MinArgs: 0, MaxArgs: 0, Handler: rc.callHandler(ReqSegfault)},
		{Name: "help", Aliases: []string{"h"}, MinArgs: 0, MaxArgs: 0, Handler: rc.helpHandler()},
	}
}

// submitHandler enqueues a fire-and-forget Request of the given kind.
func (rc *RunController) submitHandler(kind RequestKind) command.Handler {
	return func(args []string) error {
		rc.Submit(Request{Kind: kind, Args: args})
		return nil
	}
}

// callHandler enqueues a Request and surfaces its Reply.Err as the
// command's error, without printing anything on success.
func (rc *RunController) callHandler(kind RequestKind) command.Handler {
	return func(args []string) error {
		r := rc.Call(Request{Kind: kind, Args: args})
		return r.Err
	}
}

// printingCallHandler enqueues a Request and prints Reply.Text to stdout
// on success, for commands whose whole point is reporting data back to
// the operator (status, dump, pread, csr_test, ...).
func (rc *RunController) printingCallHandler(kind RequestKind) command.Handler {
	return func(args []string) error {
		r := rc.Call(Request{Kind: kind, Args: args})
		if r.Err != nil {
			return r.Err
		}
		if r.Text != "" {
			fmt.Print(r.Text)
			if r.Text[len(r.Text)-1] != '\n' {
				fmt.Println()
			}
		}
		return nil
	}
}

func (rc *RunController) helpHandler() command.Handler {
	return func(args []string) error {
		for _, s := range rc.table {
			fmt.Printf("%-16s %s\n", s.Name, aliasSuffix(s.Aliases))
		}
		return nil
	}
}

func aliasSuffix(aliases []string) string {
	if len(aliases) == 0 {
		return ""
	}
	out := "(aka"
	for _, a := range aliases {
		out += " " + a
	}
	return out + ")"
}
