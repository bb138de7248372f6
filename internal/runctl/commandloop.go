// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"fmt"
	"os"

	"github.com/pkuNucExp/pixie16-daq/internal/command"
)

// CommandLoop is RunController's other cooperative activity: it owns
// the terminal, translating operator input into Requests on the channel
// RunLoop drains. It never touches the state machine directly, and
// writes Control only to clear the error flag.
func (rc *RunController) CommandLoop(ctx context.Context, in *os.File) error {
	term := command.NewTerminal(in, rc.table)
	defer term.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, sig, err := term.ReadLine()
		if err != nil {
			rc.logError("command loop read failed: %v", err)
			return err
		}

		switch sig {
		case command.SignalEOF:
			rc.Call(Request{Kind: ReqQuit})
			return nil

		case command.SignalInterrupt:
			if rc.State().IsMca() {
				rc.Submit(Request{Kind: ReqStop})
			}
			continue

		case command.SignalSuspend:
			continue

		case command.SignalSegfault:
			_ = rc.Call(Request{Kind: ReqSegfault})
			return fmt.Errorf("runctl: segmentation fault pseudo-command")
		}

		if line == "" {
			continue
		}

		spec, args, err := command.Dispatch(line, rc.table)
		if err != nil {
			fmt.Println(err)
			continue
		}
		rc.control.ClearError()
		if spec.Handler != nil {
			if err := spec.Handler(args); err != nil {
				fmt.Println(err)
			}
		}
	}
}
