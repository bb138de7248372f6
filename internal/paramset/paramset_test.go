// SPDX-License-Identifier: MIT

package paramset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDump_FormatsLines(t *testing.T) {
	var buf bytes.Buffer
	err := Dump(&buf, []Entry{
		{Module: 0, Chan: 3, Param: "ENERGY", Value: 1.5},
		{Module: 1, Chan: 0, Param: "TAU", Value: 0},
	})
	require.NoError(t, err)
	require.Equal(t, "MODULE0_CHAN3_ENERGY=1.5\nMODULE1_CHAN0_TAU=0\n", buf.String())
}

func TestLoad_ParsesEntries(t *testing.T) {
	in := "MODULE0_CHAN3_ENERGY=1.5\n# a comment\n\nMODULE1_CHAN0_TAU=2.25\n"
	entries, err := Load(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Module: 0, Chan: 3, Param: "ENERGY", Value: 1.5},
		{Module: 1, Chan: 0, Param: "TAU", Value: 2.25},
	}, entries)
}

func TestLoad_RejectsMalformedLine(t *testing.T) {
	_, err := Load(strings.NewReader("not a valid line"))
	require.Error(t, err)
}

func TestRoundTrip_BitExact(t *testing.T) {
	original := []Entry{
		{Module: 2, Chan: 15, Param: "THRESHOLD", Value: 3.14159265358979},
		{Module: 0, Chan: 0, Param: "OFFSET", Value: -42},
	}
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, original))

	got, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, original, got)
}
