// SPDX-License-Identifier: MIT

package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable(calls *[]string) []Spec {
	record := func(name string) Handler {
		return func(args []string) error {
			*calls = append(*calls, name)
			return nil
		}
	}
	return []Spec{
		{Name: "run", MinArgs: 0, MaxArgs: 0, Handler: record("run")},
		{Name: "stop", Aliases: []string{"stopacq", "stopvme"}, MinArgs: 0, MaxArgs: 0, Handler: record("stop")},
		{Name: "timedrun", MinArgs: 1, MaxArgs: 1, Handler: record("timedrun")},
		{Name: "pread", MinArgs: 3, MaxArgs: 3, ArgNames: []string{"ENERGY", "TAU", "THRESHOLD"}, Handler: record("pread")},
	}
}

func TestDispatch_MatchesNameAndAlias(t *testing.T) {
	var calls []string
	table := testTable(&calls)

	spec, args, err := Dispatch("run", table)
	require.NoError(t, err)
	require.Equal(t, "run", spec.Name)
	require.Empty(t, args)

	spec, _, err = Dispatch("stopvme", table)
	require.NoError(t, err)
	require.Equal(t, "stop", spec.Name)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	var calls []string
	_, _, err := Dispatch("frobnicate", testTable(&calls))
	require.Error(t, err)
}

func TestDispatch_ArityViolations(t *testing.T) {
	var calls []string
	table := testTable(&calls)

	_, _, err := Dispatch("timedrun", table)
	require.Error(t, err)

	_, _, err = Dispatch("run extra", table)
	require.Error(t, err)
}

func TestRun_InvokesHandler(t *testing.T) {
	var calls []string
	table := testTable(&calls)
	require.NoError(t, Run("timedrun 5", table))
	require.Equal(t, []string{"timedrun"}, calls)
}

func TestComplete_CommandNamePrefix(t *testing.T) {
	var calls []string
	table := testTable(&calls)
	got := Complete("sto", table)
	require.ElementsMatch(t, []string{"stop", "stopacq", "stopvme"}, got)
}

func TestComplete_ArgumentNamePrefix(t *testing.T) {
	var calls []string
	table := testTable(&calls)
	got := Complete("pread 0 0 TH", table)
	require.Equal(t, []string{"THRESHOLD"}, got)
}

func TestComplete_EmptyPartialListsAll(t *testing.T) {
	var calls []string
	table := testTable(&calls)
	got := Complete("", table)
	require.Len(t, got, len(table))
}
