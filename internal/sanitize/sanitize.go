// SPDX-License-Identifier: MIT

// Package sanitize normalizes operator-supplied strings that end up as
// path components, so a malformed "prefix" or "title" command can't
// walk the output file outside its configured directory or inject
// shell-meaningful characters into generated filenames.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxPrefixLength is the maximum length of a sanitized file prefix.
	MaxPrefixLength = 64

	// MaxRawInputLength is the maximum raw input length processed.
	// Longer inputs are rejected outright to bound the cost of
	// sanitizing an adversarial string.
	MaxRawInputLength = 1024
)

// SanitizeFilePrefix sanitizes the "prefix" run-control command's
// argument for safe use as the leading component of output filenames
// (GetNextFileName joins it with the run number and ".ldf").
//
// Input validation:
//   - Empty input returns a timestamped fallback
//   - Input longer than MaxRawInputLength returns a timestamped fallback
//   - Control characters (0x00-0x1F, 0x7F) other than tab, LF and CR
//     trigger a timestamped fallback
//
// Sanitization rules:
//  1. Reject path traversal / separator / leading-dash patterns: fallback
//  2. Truncate to MaxPrefixLength characters
//  3. Replace non-alphanumeric characters with underscore
//  4. Collapse consecutive underscores
//  5. Strip leading and trailing underscores
//  6. Prefix "run_" if the result starts with a digit
//  7. Return a timestamped fallback if empty after sanitization
//
// Examples:
//
//	"beam-test"     -> "beam_test"
//	"Run #12"       -> "Run_12"
//	"../../etc"     -> "run_1700000000"
//	""              -> "run_1700000000"
func SanitizeFilePrefix(prefix string) string {
	if prefix == "" {
		return timestampFallback()
	}
	if len(prefix) > MaxRawInputLength {
		return timestampFallback()
	}
	if containsControlChars(prefix) {
		return timestampFallback()
	}

	if strings.Contains(prefix, "..") ||
		strings.ContainsAny(prefix, "/\\$") ||
		strings.HasPrefix(prefix, "-") {
		return timestampFallback()
	}

	if len(prefix) > MaxPrefixLength {
		prefix = prefix[:MaxPrefixLength]
	}

	sanitized := replaceNonAlphanumeric(prefix)
	sanitized = collapseUnderscores(sanitized)
	sanitized = strings.Trim(sanitized, "_")

	if len(sanitized) > 0 && isDigit(sanitized[0]) {
		sanitized = "run_" + sanitized
	}

	if sanitized == "" {
		return timestampFallback()
	}

	return sanitized
}

// replaceNonAlphanumeric replaces any character that is not a-z, A-Z, or 0-9 with underscore.
func replaceNonAlphanumeric(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlphanumeric(c) {
			result.WriteByte(c)
		} else {
			result.WriteByte('_')
		}
	}

	return result.String()
}

// collapseUnderscores replaces consecutive underscores with a single underscore.
func collapseUnderscores(s string) string {
	re := regexp.MustCompile(`_+`)
	return re.ReplaceAllString(s, "_")
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// timestampFallback returns "run_" followed by the current Unix timestamp.
func timestampFallback() string {
	return fmt.Sprintf("run_%d", time.Now().Unix())
}

// containsControlChars reports whether s contains a control character
// (0x00-0x1F, 0x7F) other than tab, newline, or carriage return.
func containsControlChars(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 && c != 0x09 && c != 0x0A && c != 0x0D {
			return true
		}
		if c == 0x7F {
			return true
		}
	}
	return false
}
