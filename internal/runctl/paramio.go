// SPDX-License-Identifier: MIT

package runctl

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkuNucExp/pixie16-daq/internal/command"
	"github.com/pkuNucExp/pixie16-daq/internal/hardware"
	"github.com/pkuNucExp/pixie16-daq/internal/paramset"
)

// applyParamIO implements pread/pwrite/pmread/pmwrite: ranged parameter
// I/O over "mod[:mod] chan[:chan] param [value]" for per-channel variants,
// or "mod[:mod] param [value]" for the module-level (pm-prefixed)
// variants. Writes go to the hardware only; no DSP parameter file is
// saved after a write (dump/save writes one on request). Edits are
// refused while acquisition or MCA is busy.
func (rc *RunController) applyParamIO(ctx context.Context, req Request, write, moduleLevel bool) {
	if write && rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: parameter write refused, acquisition or MCA running")})
		return
	}

	modRange, chanRange, param, value, err := parseParamArgs(req.Args, write, moduleLevel)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}

	var out strings.Builder
	for _, m := range modRange.Values() {
		chans := chanRange.Values()
		if moduleLevel {
			chans = []int{-1}
		}
		for _, ch := range chans {
			if write {
				if err := rc.hw.WriteParameter(ctx, m, ch, param, value); err != nil {
					reply(req, Reply{Err: fmt.Errorf("runctl: write %s mod=%d chan=%d: %w", param, m, ch, err)})
					return
				}
				continue
			}
			v, err := rc.hw.ReadParameter(ctx, m, ch, param)
			if err != nil {
				reply(req, Reply{Err: fmt.Errorf("runctl: read %s mod=%d chan=%d: %w", param, m, ch, err)})
				return
			}
			fmt.Fprintf(&out, "MODULE%d_CHAN%d_%s=%s\n", m, ch, param, strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	reply(req, Reply{Text: out.String()})
}

func parseParamArgs(args []string, write, moduleLevel bool) (modRange, chanRange command.Range, param string, value float64, err error) {
	minArgs := 2
	if !moduleLevel {
		minArgs = 3
	}
	if write {
		minArgs++
	}
	if len(args) < minArgs {
		err = fmt.Errorf("runctl: expected at least %d arguments, got %d", minArgs, len(args))
		return
	}

	idx := 0
	modRange, err = command.ParseRange(args[idx])
	if err != nil {
		return
	}
	idx++

	if !moduleLevel {
		chanRange, err = command.ParseRange(args[idx])
		if err != nil {
			return
		}
		idx++
	}

	param = args[idx]
	idx++

	if write {
		var v int64
		v, err = command.ParseNumeric(args[idx])
		if err == nil {
			value = float64(v)
			return
		}
		// Not an integer-formatted value; fall back to a plain float parse
		// (DSP parameters are frequently fractional, e.g. TAU).
		value, err = strconv.ParseFloat(args[idx], 64)
	}
	return
}

// applyDump implements `dump`/`save`: writes every configured channel's
// full parameter set to path (default "./Fallback.set").
func (rc *RunController) applyDump(ctx context.Context, req Request) {
	path := firstArg(req.Args)
	if path == "" {
		path = "./Fallback.set"
	}

	var entries []paramset.Entry
	for m := 0; m < rc.cfg.Modules; m++ {
		for c := 0; c < rc.cfg.Channels; c++ {
			for _, p := range dumpedParamNames {
				v, err := rc.hw.ReadParameter(ctx, m, c, p)
				if err != nil {
					reply(req, Reply{Err: fmt.Errorf("runctl: dump read %s mod=%d chan=%d: %w", p, m, c, err)})
					return
				}
				entries = append(entries, paramset.Entry{Module: m, Chan: c, Param: p, Value: v})
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		reply(req, Reply{Err: fmt.Errorf("runctl: dump create %q: %w", path, err)})
		return
	}
	defer f.Close()

	if err := paramset.Dump(f, entries); err != nil {
		reply(req, Reply{Err: err})
		return
	}
	reply(req, Reply{Text: fmt.Sprintf("dumped %d parameters to %s", len(entries), path)})
}

// dumpedParamNames is the set of channel parameters dump/save covers; a
// real deployment would source this from the XML channel-map config
// that the DSP vendor SDK owns, but a fixed representative set keeps the
// core's responsibility limited to file I/O.
var dumpedParamNames = []string{"ENERGY", "TAU", "THRESHOLD", "OFFSET"}

func (rc *RunController) applyAdjustOffsets(ctx context.Context, req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: adjust_offsets refused, acquisition or MCA running")})
		return
	}
	tuner, ok := rc.hw.(hardware.ParamTuner)
	if !ok {
		reply(req, Reply{Err: hardware.ErrUnsupported})
		return
	}
	r, err := command.ParseRange(firstArg(req.Args))
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	for _, m := range r.Values() {
		if err := tuner.AdjustOffsets(ctx, m); err != nil {
			reply(req, Reply{Err: err})
			return
		}
	}
	reply(req, Reply{Text: "offsets adjusted"})
}

func (rc *RunController) applyFindTau(ctx context.Context, req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: find_tau refused, acquisition or MCA running")})
		return
	}
	tuner, ok := rc.hw.(hardware.ParamTuner)
	if !ok {
		reply(req, Reply{Err: hardware.ErrUnsupported})
		return
	}
	if len(req.Args) < 2 {
		reply(req, Reply{Err: fmt.Errorf("runctl: find_tau requires mod and chan")})
		return
	}
	mod, err := parseIntArg(req.Args, 0)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	chanNum, err := parseIntArg(req.Args, 1)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	tau, err := tuner.FindTau(ctx, mod, chanNum)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	reply(req, Reply{Text: fmt.Sprintf("tau=%g", tau)})
}

// applyToggleCsraBit implements `toggle mod[:mod] chan[:chan] csraBit`:
// a read-modify-write of the CHANNEL_CSRA register, treating its value
// as a bit-packed 32-bit register stored as a float64 (the XIA SDK
// convention this core's hardware.Interface mirrors).
func (rc *RunController) applyToggleCsraBit(ctx context.Context, req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: toggle refused, acquisition or MCA running")})
		return
	}
	if len(req.Args) < 3 {
		reply(req, Reply{Err: fmt.Errorf("runctl: toggle requires mod[:mod] chan[:chan] csraBit")})
		return
	}
	modRange, err := command.ParseRange(req.Args[0])
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	chanRange, err := command.ParseRange(req.Args[1])
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	bit, err := parseIntArg(req.Args, 2)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	for _, m := range modRange.Values() {
		for _, c := range chanRange.Values() {
			if err := rc.toggleBitParam(ctx, m, c, "CHANNEL_CSRA", bit); err != nil {
				reply(req, Reply{Err: err})
				return
			}
		}
	}
	reply(req, Reply{Text: "CSRA bit toggled"})
}

// applyToggleParamBit implements `toggle_bit mod chan param bit`.
func (rc *RunController) applyToggleParamBit(ctx context.Context, req Request) {
	if rc.State().Busy() {
		reply(req, Reply{Err: fmt.Errorf("runctl: toggle_bit refused, acquisition or MCA running")})
		return
	}
	if len(req.Args) < 4 {
		reply(req, Reply{Err: fmt.Errorf("runctl: toggle_bit requires mod chan param bit")})
		return
	}
	mod, err := parseIntArg(req.Args, 0)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	chanNum, err := parseIntArg(req.Args, 1)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	param := req.Args[2]
	bit, err := parseIntArg(req.Args, 3)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	if err := rc.toggleBitParam(ctx, mod, chanNum, param, bit); err != nil {
		reply(req, Reply{Err: err})
		return
	}
	reply(req, Reply{Text: "bit toggled"})
}

func (rc *RunController) toggleBitParam(ctx context.Context, mod, chanNum int, param string, bit int) error {
	v, err := rc.hw.ReadParameter(ctx, mod, chanNum, param)
	if err != nil {
		return fmt.Errorf("runctl: read %s mod=%d chan=%d: %w", param, mod, chanNum, err)
	}
	bits := uint32(v) ^ (uint32(1) << uint(bit))
	if err := rc.hw.WriteParameter(ctx, mod, chanNum, param, float64(bits)); err != nil {
		return fmt.Errorf("runctl: write %s mod=%d chan=%d: %w", param, mod, chanNum, err)
	}
	return nil
}

// applyCsrTest implements `csr_test integer`: decodes CSRA flag bits.
func (rc *RunController) applyCsrTest(req Request) {
	v, err := parseIntArg(req.Args, 0)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	var out strings.Builder
	for bit := 0; bit < 32; bit++ {
		if uint32(v)&(1<<uint(bit)) != 0 {
			fmt.Fprintf(&out, "bit %d set\n", bit)
		}
	}
	reply(req, Reply{Text: out.String()})
}

// applyBitTest implements `bit_test nBits integer`: reports which of the
// low nBits bits of integer are set. Takes exactly the two documented
// arguments.
func (rc *RunController) applyBitTest(req Request) {
	if len(req.Args) < 2 {
		reply(req, Reply{Err: fmt.Errorf("runctl: bit_test requires nBits and integer")})
		return
	}
	nBits, err := parseIntArg(req.Args, 0)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	v, err := parseIntArg(req.Args, 1)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	var out strings.Builder
	for bit := 0; bit < nBits && bit < 32; bit++ {
		if uint32(v)&(1<<uint(bit)) != 0 {
			fmt.Fprintf(&out, "bit %d set\n", bit)
		}
	}
	reply(req, Reply{Text: out.String()})
}

// applyGetTraces implements `get_traces mod chan [thresh]`, writing
// captured samples to /tmp/traces.dat.
func (rc *RunController) applyGetTraces(ctx context.Context, req Request) {
	reader, ok := rc.hw.(hardware.TraceReader)
	if !ok {
		reply(req, Reply{Err: hardware.ErrUnsupported})
		return
	}
	if len(req.Args) < 2 {
		reply(req, Reply{Err: fmt.Errorf("runctl: get_traces requires mod and chan")})
		return
	}
	mod, err := parseIntArg(req.Args, 0)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	chanNum, err := parseIntArg(req.Args, 1)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}
	var thresh float64
	if len(req.Args) >= 3 {
		thresh, err = parseFloatArg(req.Args, 2)
		if err != nil {
			reply(req, Reply{Err: err})
			return
		}
	}

	samples, err := reader.ReadTraces(ctx, mod, chanNum, thresh)
	if err != nil {
		reply(req, Reply{Err: err})
		return
	}

	f, err := os.Create("/tmp/traces.dat")
	if err != nil {
		reply(req, Reply{Err: fmt.Errorf("runctl: create traces file: %w", err)})
		return
	}
	defer f.Close()

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	if _, err := f.Write(buf); err != nil {
		reply(req, Reply{Err: fmt.Errorf("runctl: write traces file: %w", err)})
		return
	}
	reply(req, Reply{Text: fmt.Sprintf("captured %d samples to /tmp/traces.dat", len(samples))})
}
