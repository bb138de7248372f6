// SPDX-License-Identifier: MIT

package command

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Signal identifies a terminal-level event CommandLoop must react to
// outside the normal command table.
type Signal int

const (
	// SignalNone means a normal command line was read.
	SignalNone Signal = iota
	// SignalEOF corresponds to terminal EOF, mapped to "quit".
	SignalEOF
	// SignalInterrupt corresponds to Ctrl-C: "stop" if MCA is active,
	// otherwise ignored.
	SignalInterrupt
	// SignalSuspend corresponds to Ctrl-Z: always ignored.
	SignalSuspend
	// SignalSegfault is the pseudo-signal command used in testing to
	// exercise the failure-exit path without an actual crash.
	SignalSegfault
)

// Terminal reads operator command lines, reporting either a line or a
// Signal. When stdin is a real TTY it switches to raw mode so it can
// intercept Ctrl-C/Ctrl-Z itself and drive tab completion; over a
// non-TTY (tests, piped input) it falls back to line-buffered
// bufio.Scanner reads with no completion.
type Terminal struct {
	in       *os.File
	scanner  *bufio.Scanner
	table    []Spec
	raw      bool
	oldState *term.State
}

// NewTerminal builds a Terminal reading from in against table (used for
// completion). Completion is only available when in is a TTY.
func NewTerminal(in *os.File, table []Spec) *Terminal {
	t := &Terminal{in: in, table: table}
	if term.IsTerminal(int(in.Fd())) {
		if st, err := term.MakeRaw(int(in.Fd())); err == nil {
			t.raw = true
			t.oldState = st
		}
	}
	if !t.raw {
		t.scanner = bufio.NewScanner(in)
	}
	return t
}

// Close restores the terminal to its original (cooked) mode, if raw mode
// was entered.
func (t *Terminal) Close() error {
	if t.raw && t.oldState != nil {
		return term.Restore(int(t.in.Fd()), t.oldState)
	}
	return nil
}

// ReadLine returns the next operator input: either a complete command
// line (Signal == SignalNone) or a terminal-level Signal with an empty
// line. io.EOF is reported as (  "", SignalEOF, nil ).
func (t *Terminal) ReadLine() (string, Signal, error) {
	if !t.raw {
		return t.readLineCooked()
	}
	return t.readLineRaw()
}

// readLineCooked is the bufio.Scanner fallback for non-TTY input.
func (t *Terminal) readLineCooked() (string, Signal, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", SignalNone, fmt.Errorf("command: read line: %w", err)
		}
		return "", SignalEOF, nil
	}
	return t.scanner.Text(), SignalNone, nil
}

// readLineRaw reads byte-at-a-time in raw mode, handling backspace, Ctrl-C
// (0x03), Ctrl-D (0x04), Ctrl-Z (0x1a), and Tab (0x09) for completion.
// Ctrl-C and Ctrl-D classify as Signal rather than being echoed into the
// returned line.
func (t *Terminal) readLineRaw() (string, Signal, error) {
	var line []byte
	buf := make([]byte, 1)

	for {
		n, err := t.in.Read(buf)
		if err == io.EOF {
			return "", SignalEOF, nil
		}
		if err != nil {
			return "", SignalNone, fmt.Errorf("command: read byte: %w", err)
		}
		if n == 0 {
			continue
		}

		switch buf[0] {
		case 0x03: // Ctrl-C
			return "", SignalInterrupt, nil
		case 0x04: // Ctrl-D
			return "", SignalEOF, nil
		case 0x1a: // Ctrl-Z
			return "", SignalSuspend, nil
		case '\r', '\n':
			return string(line), SignalNone, nil
		case 0x7f, 0x08: // Backspace/Delete
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
		case 0x09: // Tab
			completions := Complete(string(line), t.table)
			if len(completions) == 1 {
				line = []byte(completions[0])
			}
		default:
			line = append(line, buf[0])
		}
	}
}
