// SPDX-License-Identifier: MIT

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddEvent_AccumulatesPerChannel(t *testing.T) {
	h := New(1.0, nil)
	h.AddEvent(0, 3, 40)
	h.AddEvent(0, 3, 20)
	h.AddEvent(0, 4, 10)

	snap := h.Snapshot()
	require.Equal(t, uint64(2), snap.Counts[[2]int{0, 3}].Events)
	require.Equal(t, uint64(60), snap.Counts[[2]int{0, 3}].Bytes)
	require.Equal(t, uint64(1), snap.Counts[[2]int{0, 4}].Events)
}

func TestAddTime_FiresAtInterval(t *testing.T) {
	h := New(2.0, nil)
	require.False(t, h.AddTime(1.0))
	require.True(t, h.AddTime(1.0))
}

func TestAddTime_ZeroIntervalNeverFires(t *testing.T) {
	h := New(0, nil)
	require.False(t, h.AddTime(1000))
}

func TestDump_InvokesCallbackAndClearsRate(t *testing.T) {
	var got Snapshot
	calls := 0
	h := New(1.0, func(s Snapshot) {
		calls++
		got = s
	})
	h.AddEvent(0, 0, 1000)
	h.AddTime(1.0)
	h.Dump()

	require.Equal(t, 1, calls)
	require.InDelta(t, 1000.0, got.DataRate, 0.01)
	require.Equal(t, 0.0, h.GetTotalTime()-got.TotalTime) // totals untouched by Dump

	// Rate resets after dump: a following interval with no new events
	// reports a zero rate.
	h.AddTime(1.0)
	h.Dump()
	require.Equal(t, 0.0, got.DataRate)
}

func TestClear_ResetsTotalsAndRates(t *testing.T) {
	h := New(1.0, nil)
	h.AddEvent(0, 0, 100)
	h.AddTime(5)
	h.Clear()

	require.Equal(t, 0.0, h.GetTotalTime())
	snap := h.Snapshot()
	require.Empty(t, snap.Counts)
}

func TestSetXiaRates(t *testing.T) {
	h := New(1.0, nil)
	h.SetXiaRates(1, []float64{10, 20}, []float64{5, 15})
	snap := h.Snapshot()
	require.Equal(t, 10.0, snap.Counts[[2]int{1, 0}].ICR)
	require.Equal(t, 15.0, snap.Counts[[2]int{1, 1}].OCR)
}

func TestIdempotentClears(t *testing.T) {
	h := New(1.0, nil)
	h.ClearRates()
	h.ClearRates()
	h.ClearTotals()
	h.ClearTotals()
}
