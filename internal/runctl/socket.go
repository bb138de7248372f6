// SPDX-License-Identifier: MIT

package runctl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkuNucExp/pixie16-daq/internal/command"
)

// socketMode tells handleControlConn whether a command's Request expects
// a synchronous Reply or is fire-and-forget.
type socketMode int

const (
	socketSubmit socketMode = iota
	socketCall
)

// socketRoutes maps a command.Spec name to the RequestKind a remote
// connection submits or calls. It reuses the same RequestKind values as
// buildCommandTable, but never invokes a command.Handler directly:
// printingCallHandler and its siblings write to the process's own
// os.Stdout, which would either go nowhere useful over a socket or
// interleave with CommandLoop's terminal output. A remote connection
// gets Reply.Text/Reply.Err written back over its own connection
// instead.
var socketRoutes = map[string]struct {
	kind RequestKind
	mode socketMode
}{
	"run":            {ReqRun, socketSubmit},
	"startacq":       {ReqStartAcqNoRecord, socketSubmit},
	"timedrun":       {ReqTimedRun, socketSubmit},
	"stop":           {ReqStop, socketSubmit},
	"spill":          {ReqForceSpill, socketCall},
	"mca":            {ReqStartMca, socketSubmit},
	"reboot":         {ReqReboot, socketCall},
	"status":         {ReqStatus, socketCall},
	"dump":           {ReqDump, socketCall},
	"pread":          {ReqPRead, socketCall},
	"pwrite":         {ReqPWrite, socketCall},
	"adjust_offsets": {ReqAdjustOffsets, socketCall},
	"kill":           {ReqKillAll, socketSubmit},
}

// ServeControl listens on a Unix domain socket and executes one command
// line per connection, so pixie16ctl can drive a running daemon without
// sharing its controlling terminal. Unlike CommandLoop, which reads a
// continuous stream from the console, each connection here gets exactly
// one command and one reply; that keeps concurrent pixie16ctl
// invocations from interleaving replies, something the stdout-printing
// Handler path has no way to offer remotely.
func (rc *RunController) ServeControl(ctx context.Context, path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("runctl: control socket listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("runctl: control socket accept: %w", err)
			}
		}
		go rc.handleControlConn(conn)
	}
}

func (rc *RunController) handleControlConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	line := strings.TrimSpace(scanner.Text())

	spec, args, err := command.Dispatch(line, rc.table)
	if err != nil {
		fmt.Fprintf(conn, "ERR %v\n", err)
		return
	}

	route, ok := socketRoutes[spec.Name]
	if !ok {
		fmt.Fprintf(conn, "ERR runctl: %s is only available from the daemon console\n", spec.Name)
		return
	}

	if route.mode == socketSubmit {
		rc.Submit(Request{Kind: route.kind, Args: args})
		fmt.Fprintln(conn, "OK")
		return
	}

	r := rc.Call(Request{Kind: route.kind, Args: args})
	if r.Err != nil {
		fmt.Fprintf(conn, "ERR %v\n", r.Err)
		return
	}
	if r.Text == "" {
		fmt.Fprintln(conn, "OK")
		return
	}
	fmt.Fprint(conn, r.Text)
	if r.Text[len(r.Text)-1] != '\n' {
		fmt.Fprintln(conn)
	}
}
