// SPDX-License-Identifier: MIT

package runctl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkuNucExp/pixie16-daq/internal/command"
)

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func parseFloatArg(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("runctl: missing numeric argument")
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("runctl: invalid numeric argument %q: %w", args[i], err)
	}
	return v, nil
}

func parseIntArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("runctl: missing integer argument")
	}
	v, err := command.ParseNumeric(args[i])
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// ensureTrailingSlash enforces the "outputDir always has a trailing
// separator" invariant.
func ensureTrailingSlash(dir string) string {
	if dir == "" || strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// stripOuterQuotes implements the `title` command's "strip outer quotes"
// behavior.
func stripOuterQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseMcaArgs parses `mca [seconds] [basename]`: arguments are
// order-insensitive if one is numeric.
func parseMcaArgs(args []string) (seconds float64, basename string) {
	for _, a := range args {
		if v, err := strconv.ParseFloat(a, 64); err == nil {
			seconds = v
			continue
		}
		basename = a
	}
	return seconds, basename
}

func formatStatus(s StatusSnapshot) string {
	return fmt.Sprintf(
		"state=%s run=%d totalTime=%.2fs dataRate=%.1fB/s hadError=%v file=%s",
		s.State, s.RunNumber, s.TotalTime, s.DataRate, s.HadError, s.FileOpen,
	)
}
