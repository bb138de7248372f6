// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkuNucExp/pixie16-daq/internal/hardware"
	"github.com/stretchr/testify/require"
)

// eventWord builds a single-word event header for a module whose expected
// slot equals its module index (the default when no slotmap is configured).
func eventWord(chanNum, slot, sizeWords int) uint32 {
	return uint32(chanNum&0xF) | uint32(slot&0xF)<<4 | uint32(sizeWords&0x3FFF)<<17
}

func newTestController(t *testing.T, dir string) (*RunController, *hardware.Sim) {
	t.Helper()
	sim := hardware.NewSim(1, 2)
	rc, err := New(Config{
		Modules:    1,
		Channels:   2,
		FIFOMax:    1000,
		FIFOMin:    1,
		PollTries:  1,
		OutputDir:  dir,
		FilePrefix: "run",
	}, sim, nil)
	require.NoError(t, err)
	return rc, sim
}

func TestFreshRun_AcquireOneSpillAndStop(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqRun})

	require.Eventually(t, func() bool { return rc.State() == StateAcqRunning }, time.Second, time.Millisecond)

	sim.PushWords(0, eventWord(3, 0, 1))
	r := rc.Call(Request{Kind: ReqForceSpill})
	require.NoError(t, r.Err)

	require.Eventually(t, func() bool { return rc.State() == StateAcqRunning && rc.outFile.Size() > 0 }, time.Second, time.Millisecond)

	rc.Submit(Request{Kind: ReqStop})
	require.Eventually(t, func() bool { return rc.State() == StateIdle }, 2*time.Second, time.Millisecond)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "run_1.ldf", entries[0].Name())
}

func TestTimedRun_StopsAutomatically(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqTimedRun, Args: []string{"0.05"}})
	require.Eventually(t, func() bool { return rc.State() == StateAcqRunning }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return rc.State() == StateIdle }, 2*time.Second, time.Millisecond)
}

func TestReboot_RefusedWhileMcaRunning(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqStartMca})
	require.Eventually(t, func() bool { return rc.State() == StateMcaRunning }, time.Second, time.Millisecond)

	r := rc.Call(Request{Kind: ReqReboot})
	require.Error(t, r.Err)

	rc.Submit(Request{Kind: ReqStop})
	require.Eventually(t, func() bool { return rc.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestRun_RefusedWhileMcaRunning(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqStartMca})
	require.Eventually(t, func() bool { return rc.State() == StateMcaRunning }, time.Second, time.Millisecond)

	r := rc.Call(Request{Kind: ReqRun})
	require.Error(t, r.Err)

	rc.Submit(Request{Kind: ReqStop})
	require.Eventually(t, func() bool { return rc.State() == StateIdle }, time.Second, time.Millisecond)

	// The refused request must not leave a pending startAcq flag behind
	// for RunLoop to pick up once MCA ends.
	require.Never(t, func() bool { return rc.State() == StateAcqRunning }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestControl_ClearError(t *testing.T) {
	c := NewControl(1000)
	c.setError()
	require.True(t, c.HadError())
	c.ClearError()
	require.False(t, c.HadError())
}

func TestParamIO_WriteThenRead(t *testing.T) {
	dir := t.TempDir()
	rc, _ := newTestController(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	wr := rc.Call(Request{Kind: ReqPWrite, Args: []string{"0", "0", "TAU", "5.5"}})
	require.NoError(t, wr.Err)

	rd := rc.Call(Request{Kind: ReqPRead, Args: []string{"0", "0", "TAU"}})
	require.NoError(t, rd.Err)
	require.Contains(t, rd.Text, "MODULE0_CHAN0_TAU=5.5")
}

func TestParamIO_ModuleLevelWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	rc, _ := newTestController(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	wr := rc.Call(Request{Kind: ReqPMWrite, Args: []string{"0", "MODULE_CSRA", "3"}})
	require.NoError(t, wr.Err)

	rd := rc.Call(Request{Kind: ReqPMRead, Args: []string{"0", "MODULE_CSRA"}})
	require.NoError(t, rd.Err)
	require.Contains(t, rd.Text, "MODULE0_CHAN-1_MODULE_CSRA=3")
}

func TestParamIO_WriteRefusedWhileAcquiring(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqRun})
	require.Eventually(t, func() bool { return rc.State() == StateAcqRunning }, time.Second, time.Millisecond)

	r := rc.Call(Request{Kind: ReqPWrite, Args: []string{"0", "0", "TAU", "1"}})
	require.Error(t, r.Err)

	rc.Submit(Request{Kind: ReqStop})
	require.Eventually(t, func() bool { return rc.State() == StateIdle }, 2*time.Second, time.Millisecond)
}

func TestApplyDump_WritesParamSetFile(t *testing.T) {
	dir := t.TempDir()
	rc, _ := newTestController(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	path := filepath.Join(dir, "out.set")
	r := rc.Call(Request{Kind: ReqDump, Args: []string{path}})
	require.NoError(t, r.Err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "MODULE0_CHAN0_ENERGY=0")
}

func TestCsrTest_DecodesSetBits(t *testing.T) {
	dir := t.TempDir()
	rc, _ := newTestController(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	r := rc.Call(Request{Kind: ReqCsrTest, Args: []string{"5"}})
	require.NoError(t, r.Err)
	require.Contains(t, r.Text, "bit 0 set")
	require.Contains(t, r.Text, "bit 2 set")
	require.NotContains(t, r.Text, "bit 1 set")
}

func TestGetTraces_WritesFile(t *testing.T) {
	dir := t.TempDir()
	rc, _ := newTestController(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	r := rc.Call(Request{Kind: ReqGetTraces, Args: []string{"0", "0"}})
	require.NoError(t, r.Err)

	data, err := os.ReadFile("/tmp/traces.dat")
	require.NoError(t, err)
	require.Equal(t, 200, len(data))
}

func TestKillAll_TerminatesFromAnyState(t *testing.T) {
	dir := t.TempDir()
	rc, sim := newTestController(t, dir)
	require.NoError(t, sim.Boot(context.Background(), false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.RunLoop(ctx)

	rc.Submit(Request{Kind: ReqRun})
	require.Eventually(t, func() bool { return rc.State() == StateAcqRunning }, time.Second, time.Millisecond)

	rc.Submit(Request{Kind: ReqKillAll})
	require.Eventually(t, func() bool { return rc.State() == StateTerminated }, time.Second, time.Millisecond)
}
