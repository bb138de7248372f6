package sanitize

import (
	"strings"
	"testing"
	"time"
)

// TestSanitizeFilePrefix verifies the prefix sanitization invariants:
// anything that isn't plain alphanumeric-plus-underscore either survives
// as an underscore or forces the timestamped fallback, so the result is
// always safe to join into an output path.
func TestSanitizeFilePrefix(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantLike string // For timestamp-based results
	}{
		// Basic alphanumeric (should pass through)
		{
			name:  "simple alphanumeric",
			input: "beamtest",
			want:  "beamtest",
		},
		{
			name:  "alphanumeric with underscores",
			input: "calibration_run",
			want:  "calibration_run",
		},
		{
			name:  "mixed case preserved",
			input: "Run123",
			want:  "Run123",
		},

		// Sanitization: replace non-alphanumeric
		{
			name:  "spaces to underscores",
			input: "beam test",
			want:  "beam_test",
		},
		{
			name:  "hyphens to underscores",
			input: "beam-test-run",
			want:  "beam_test_run",
		},
		{
			name:     "special characters with dollar (suspicious)",
			input:    "run@#$%name",
			wantLike: "run_", // $ is a suspicious character
		},
		{
			name:  "parentheses replaced",
			input: "run(calib)",
			want:  "run_calib", // Trailing underscore stripped
		},
		{
			name:  "brackets replaced",
			input: "run[1]",
			want:  "run_1",
		},

		// Collapse consecutive underscores
		{
			name:  "multiple spaces",
			input: "beam   test",
			want:  "beam_test",
		},
		{
			name:  "mixed separators",
			input: "beam - test - run",
			want:  "beam_test_run",
		},

		// Strip leading/trailing underscores
		{
			name:  "leading underscore",
			input: "_run",
			want:  "run",
		},
		{
			name:  "trailing underscore",
			input: "run_",
			want:  "run",
		},
		{
			name:  "leading space",
			input: " run",
			want:  "run",
		},
		{
			name:  "trailing space",
			input: "run ",
			want:  "run",
		},

		// Starts with digit: prefix "run_"
		{
			name:  "starts with digit",
			input: "123run",
			want:  "run_123run",
		},
		{
			name:  "starts with digit after sanitization",
			input: "!123run",
			want:  "run_123run",
		},

		// Length truncation
		{
			name:  "exactly 64 chars",
			input: strings.Repeat("a", 64),
			want:  strings.Repeat("a", 64),
		},
		{
			name:  "over 64 chars truncated",
			input: strings.Repeat("a", 100),
			want:  strings.Repeat("a", 64),
		},
		{
			name:  "over 64 with spaces",
			input: strings.Repeat("ab ", 30), // 90 chars
			want:  "ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_a",
		},

		// Security: suspicious patterns (return timestamp-based fallback)
		{
			name:     "path traversal attempt",
			input:    "../etc/passwd",
			wantLike: "run_",
		},
		{
			name:     "absolute path",
			input:    "/etc/passwd",
			wantLike: "run_",
		},
		{
			name:     "dollar sign",
			input:    "prefix$name",
			wantLike: "run_",
		},
		{
			name:     "starts with hyphen",
			input:    "-prefix",
			wantLike: "run_",
		},

		// Empty or whitespace-only (fallback)
		{
			name:     "empty string",
			input:    "",
			wantLike: "run_",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			wantLike: "run_",
		},
		{
			name:     "special chars only",
			input:    "!@#$%",
			wantLike: "run_",
		},

		// Real-world run prefixes
		{
			name:  "beam energy scan",
			input: "Beam Energy Scan",
			want:  "Beam_Energy_Scan",
		},
		{
			name:  "detector calibration",
			input: "Detector Calibration",
			want:  "Detector_Calibration",
		},
		{
			name:  "long descriptive prefix",
			input: "Gamma Source Check REV8_00",
			want:  "Gamma_Source_Check_REV8_00",
		},
		{
			name:  "prefix with run number marker",
			input: "Calib - Pass - Run #1",
			want:  "Calib_Pass_Run_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilePrefix(tt.input)

			if tt.wantLike != "" {
				if !strings.HasPrefix(got, tt.wantLike) {
					t.Errorf("SanitizeFilePrefix(%q) = %q, want prefix %q", tt.input, got, tt.wantLike)
				}
				suffix := strings.TrimPrefix(got, tt.wantLike)
				if len(suffix) == 0 {
					t.Errorf("SanitizeFilePrefix(%q) = %q, missing timestamp suffix", tt.input, got)
				}
			} else {
				if got != tt.want {
					t.Errorf("SanitizeFilePrefix(%q) = %q, want %q", tt.input, got, tt.want)
				}
			}
		})
	}
}

// TestSanitizeFilePrefixDeterministic verifies same input produces same output (except timestamps).
func TestSanitizeFilePrefixDeterministic(t *testing.T) {
	inputs := []string{
		"beam test",
		"Detector Calibration",
		"prefix@#$name",
		"123prefix",
	}

	for _, input := range inputs {
		result1 := SanitizeFilePrefix(input)
		result2 := SanitizeFilePrefix(input)

		if result1 != result2 {
			t.Errorf("SanitizeFilePrefix(%q) not deterministic: %q != %q", input, result1, result2)
		}
	}
}

// TestSanitizeFilePrefixTimestampFallback verifies that suspicious inputs fall back to a run_-prefixed name.
func TestSanitizeFilePrefixTimestampFallback(t *testing.T) {
	inputs := []string{
		"../etc/passwd",
		"/etc/passwd",
		"prefix$name",
		"-prefix",
		"",
		"   ",
	}

	for _, input := range inputs {
		result1 := SanitizeFilePrefix(input)
		time.Sleep(1 * time.Millisecond) // Timestamps have one-second resolution, so result2 may equal result1
		result2 := SanitizeFilePrefix(input)

		if !strings.HasPrefix(result1, "run_") {
			t.Errorf("SanitizeFilePrefix(%q) = %q, expected run_ prefix", input, result1)
		}

		if result1 == result2 {
			t.Logf("WARNING: SanitizeFilePrefix(%q) produced identical timestamps: %q", input, result1)
		}
	}
}

// TestSanitizeFilePrefixNoPathTraversal ensures no path traversal in output.
func TestSanitizeFilePrefixNoPathTraversal(t *testing.T) {
	malicious := []string{
		"../../../etc/passwd",
		"./config",
		"/etc/shadow",
		"prefix/../etc",
	}

	for _, input := range malicious {
		result := SanitizeFilePrefix(input)

		if strings.Contains(result, "/") {
			t.Errorf("SanitizeFilePrefix(%q) = %q, contains path separator", input, result)
		}
		if strings.Contains(result, "..") {
			t.Errorf("SanitizeFilePrefix(%q) = %q, contains path traversal", input, result)
		}
	}
}

// TestSanitizeFilePrefixMaxLength ensures the length limit is enforced.
func TestSanitizeFilePrefixMaxLength(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", 100),
		strings.Repeat("ab ", 50),
		strings.Repeat("Beam Test Run ", 10),
	}

	for _, input := range inputs {
		result := SanitizeFilePrefix(input)

		if strings.HasPrefix(result, "run_") {
			// OK if input sanitized down to the fallback
			continue
		}

		if len(result) > MaxPrefixLength {
			t.Errorf("SanitizeFilePrefix(%q) = %q (len=%d), exceeds %d chars", input, result, len(result), MaxPrefixLength)
		}
	}
}

// BenchmarkSanitizeFilePrefix measures performance for the dispatch hot path.
func BenchmarkSanitizeFilePrefix(b *testing.B) {
	testCases := []string{
		"beam test",
		"Detector Calibration",
		"Gamma Source Check REV8_00",
		"prefix!@#$%^&*()",
		strings.Repeat("a", 100),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			SanitizeFilePrefix(tc)
		}
	}
}

// TestSanitizeFilePrefixExcessiveLength verifies rejection of excessively long inputs.
func TestSanitizeFilePrefixExcessiveLength(t *testing.T) {
	tests := []struct {
		name     string
		inputLen int
		wantLike string
	}{
		{
			name:     "exactly 1024 chars (at limit)",
			inputLen: MaxRawInputLength,
			wantLike: "", // Should be processed normally
		},
		{
			name:     "1025 chars (over limit)",
			inputLen: MaxRawInputLength + 1,
			wantLike: "run_", // Should trigger fallback
		},
		{
			name:     "10000 chars (way over limit)",
			inputLen: 10000,
			wantLike: "run_", // Should trigger fallback
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := strings.Repeat("a", tt.inputLen)
			got := SanitizeFilePrefix(input)

			if tt.wantLike != "" {
				if !strings.HasPrefix(got, tt.wantLike) {
					t.Errorf("SanitizeFilePrefix(len=%d) = %q, want prefix %q", tt.inputLen, got, tt.wantLike)
				}
			} else {
				if len(got) > MaxPrefixLength {
					t.Errorf("SanitizeFilePrefix(len=%d) = %q (len=%d), exceeds %d chars", tt.inputLen, got, len(got), MaxPrefixLength)
				}
				if strings.HasPrefix(got, "run_") {
					t.Errorf("SanitizeFilePrefix(len=%d) = %q, unexpected fallback", tt.inputLen, got)
				}
			}
		})
	}
}

// TestSanitizeFilePrefixControlChars verifies rejection of control characters.
func TestSanitizeFilePrefixControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLike string
	}{
		{
			name:     "null byte",
			input:    "prefix\x00name",
			wantLike: "run_",
		},
		{
			name:     "bell character",
			input:    "prefix\x07name",
			wantLike: "run_",
		},
		{
			name:     "backspace",
			input:    "prefix\x08name",
			wantLike: "run_",
		},
		{
			name:     "escape character",
			input:    "prefix\x1bname",
			wantLike: "run_",
		},
		{
			name:     "DEL character",
			input:    "prefix\x7fname",
			wantLike: "run_",
		},
		{
			name:     "tab is allowed",
			input:    "prefix\tname",
			wantLike: "", // Tab is allowed - converted to underscore
		},
		{
			name:     "newline is allowed",
			input:    "prefix\nname",
			wantLike: "", // Newline is allowed - converted to underscore
		},
		{
			name:     "carriage return is allowed",
			input:    "prefix\rname",
			wantLike: "", // CR is allowed - converted to underscore
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilePrefix(tt.input)

			if tt.wantLike != "" {
				if !strings.HasPrefix(got, tt.wantLike) {
					t.Errorf("SanitizeFilePrefix(%q) = %q, want prefix %q", tt.input, got, tt.wantLike)
				}
			} else {
				if strings.HasPrefix(got, "run_") {
					t.Errorf("SanitizeFilePrefix(%q) = %q, unexpected fallback", tt.input, got)
				}
				for i := 0; i < len(got); i++ {
					c := got[i]
					if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
						t.Errorf("SanitizeFilePrefix(%q) = %q, contains unsafe char: %q", tt.input, got, c)
					}
				}
			}
		})
	}
}

// TestContainsControlChars tests the control character detection helper.
func TestContainsControlChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"clean string", "Hello World", false},
		{"with tab", "Hello\tWorld", false},     // Tab is allowed
		{"with newline", "Hello\nWorld", false}, // Newline is allowed
		{"with CR", "Hello\rWorld", false},      // CR is allowed
		{"with null", "Hello\x00World", true},
		{"with bell", "Hello\x07World", true},
		{"with backspace", "Hello\x08World", true},
		{"with escape", "Hello\x1bWorld", true},
		{"with DEL", "Hello\x7fWorld", true},
		{"with form feed", "Hello\x0cWorld", true},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := containsControlChars(tt.input)
			if got != tt.want {
				t.Errorf("containsControlChars(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
