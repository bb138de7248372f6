// SPDX-License-Identifier: MIT

// Package command implements the operator command table: a
// name/alias/arity table, a line dispatcher, tab-completion over that
// same table, and a terminal reader that feeds it. Dispatch validates
// arity before a handler ever runs, the same "validate, then act" shape
// used elsewhere in this repo for field-by-field config checks.
package command

import (
	"fmt"
	"strings"
)

// Handler executes a command once Dispatch has validated its arity.
// args excludes the command name itself.
type Handler func(args []string) error

// Spec describes one operator command row.
type Spec struct {
	Name    string
	Aliases []string
	MinArgs int
	MaxArgs int // -1 means unbounded
	Handler Handler

	// ArgNames, when non-empty, enables Complete to suggest argument-name
	// candidates for the final argument position (used by pread/pwrite's
	// parameter-name completion).
	ArgNames []string
}

// matches reports whether tok names this spec by primary name or alias.
func (s Spec) matches(tok string) bool {
	if s.Name == tok {
		return true
	}
	for _, a := range s.Aliases {
		if a == tok {
			return true
		}
	}
	return false
}

// Dispatch splits line into whitespace-separated tokens, finds the Spec
// whose name or alias matches the first token, validates arity, and
// returns the matched Spec and remaining argument tokens. It does not
// invoke the handler; callers that want validate-then-execute call
// spec.Handler(args) themselves, and callers that just want dry-run
// validation can skip that call.
func Dispatch(line string, table []Spec) (Spec, []string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Spec{}, nil, fmt.Errorf("command: empty line")
	}
	name := fields[0]
	args := fields[1:]

	for _, spec := range table {
		if !spec.matches(name) {
			continue
		}
		if len(args) < spec.MinArgs {
			return Spec{}, nil, fmt.Errorf("command: %s requires at least %d argument(s), got %d", name, spec.MinArgs, len(args))
		}
		if spec.MaxArgs >= 0 && len(args) > spec.MaxArgs {
			return Spec{}, nil, fmt.Errorf("command: %s accepts at most %d argument(s), got %d", name, spec.MaxArgs, len(args))
		}
		return spec, args, nil
	}
	return Spec{}, nil, fmt.Errorf("command: unknown command %q", name)
}

// Run is a convenience wrapper around Dispatch that also invokes the
// matched handler.
func Run(line string, table []Spec) error {
	spec, args, err := Dispatch(line, table)
	if err != nil {
		return err
	}
	if spec.Handler == nil {
		return fmt.Errorf("command: %s has no handler", spec.Name)
	}
	return spec.Handler(args)
}

// Complete returns tab-completion candidates for partial: when partial
// names no complete command yet, it prefix-matches command names (and
// aliases); when partial is "<command> <partial-arg>" for a command with
// ArgNames, it prefix-matches argument names instead.
func Complete(partial string, table []Spec) []string {
	fields := strings.Fields(partial)
	trailingSpace := strings.HasSuffix(partial, " ")

	if len(fields) == 0 {
		return allNames(table)
	}

	if len(fields) == 1 && !trailingSpace {
		return matchingNames(fields[0], table)
	}

	cmdName := fields[0]
	var argPrefix string
	if !trailingSpace {
		argPrefix = fields[len(fields)-1]
	}

	for _, spec := range table {
		if !spec.matches(cmdName) || len(spec.ArgNames) == 0 {
			continue
		}
		var out []string
		for _, an := range spec.ArgNames {
			if strings.HasPrefix(an, argPrefix) {
				out = append(out, an)
			}
		}
		return out
	}
	return nil
}

func allNames(table []Spec) []string {
	out := make([]string, 0, len(table))
	for _, s := range table {
		out = append(out, s.Name)
	}
	return out
}

func matchingNames(prefix string, table []Spec) []string {
	var out []string
	for _, s := range table {
		if strings.HasPrefix(s.Name, prefix) {
			out = append(out, s.Name)
		}
		for _, a := range s.Aliases {
			if strings.HasPrefix(a, prefix) {
				out = append(out, a)
			}
		}
	}
	return out
}
