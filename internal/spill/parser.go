// SPDX-License-Identifier: MIT

package spill

import "fmt"

// Outcome classifies how a module's parse walk ended.
type Outcome int

const (
	// OutcomeClean means the cursor reached exactly the end of the
	// payload with no trailing fragment.
	OutcomeClean Outcome = iota
	// OutcomePartial means the trailing event's words were not all
	// present; Result.Partial carries the fragment forward to the next
	// spill.
	OutcomePartial
	// OutcomeCorrupt means an event header failed validation before the
	// payload was fully consumed; Result.Diagnostic describes the
	// surrounding context.
	OutcomeCorrupt
)

// EventRecord is one non-virtual event parsed from a module's payload,
// destined for StatsHandler.AddEvent.
type EventRecord struct {
	Mod     int
	Channel int
	Bytes   int
}

// Result is the outcome of parsing one module's drained payload.
type Result struct {
	Mod        int
	Events     []EventRecord
	Outcome    Outcome
	Partial    []uint32 // only set when Outcome == OutcomePartial
	Err        error    // only set when Outcome == OutcomeCorrupt
	Diagnostic string   // only set when Outcome == OutcomeCorrupt
}

// diagnosticWindow bounds how many words of context surround a
// corruption diagnostic dump ("truncated to 50 words").
const diagnosticWindow = 50

// ParseModule walks events in a module's drained payload (partial-event
// prefix already concatenated with the freshly-read words), validating
// each event's header against expectedSlot.
//
// It never mutates words.
func ParseModule(words []uint32, mod, expectedSlot int) Result {
	n := len(words)
	var events []EventRecord
	var eventStarts []int
	cursor := 0

	for cursor < n {
		h := DecodeHeader(words[cursor])
		if err := h.Validate(expectedSlot); err != nil {
			return corruptResult(words, mod, eventStarts, cursor, err)
		}

		end := cursor + h.Size
		if end > n {
			fragment := make([]uint32, n-cursor)
			copy(fragment, words[cursor:n])
			return Result{Mod: mod, Events: events, Outcome: OutcomePartial, Partial: fragment}
		}

		if !h.Virtual {
			events = append(events, EventRecord{Mod: mod, Channel: h.Channel, Bytes: h.Size * 4})
		}
		eventStarts = append(eventStarts, cursor)
		cursor = end
	}

	return Result{Mod: mod, Events: events, Outcome: OutcomeClean}
}

// corruptResult builds the diagnostic dump: the preceding event, the
// offending event (truncated to 50 words), and the following words
// (also truncated to 50 words).
func corruptResult(words []uint32, mod int, eventStarts []int, badAt int, cause error) Result {
	n := len(words)

	var previous []uint32
	if len(eventStarts) > 0 {
		prevStart := eventStarts[len(eventStarts)-1]
		previous = words[prevStart:badAt]
	}

	offendingLen := diagnosticWindow
	if badAt+offendingLen > n {
		offendingLen = n - badAt
	}
	offending := words[badAt : badAt+offendingLen]

	followStart := badAt + offendingLen
	followLen := diagnosticWindow
	if followStart+followLen > n {
		followLen = n - followStart
	}
	var following []uint32
	if followLen > 0 {
		following = words[followStart : followStart+followLen]
	}

	diag := fmt.Sprintf(
		"spill: module %d corrupted at word %d: %v\n  previous event (%d words): %v\n  offending event (%d of %d words shown): %v\n  following words (%d shown): %v",
		mod, badAt, cause,
		len(previous), previous,
		offendingLen, n-badAt, offending,
		followLen, following,
	)

	return Result{
		Mod:        mod,
		Outcome:    OutcomeCorrupt,
		Err:        fmt.Errorf("module %d: %w", mod, cause),
		Diagnostic: diag,
	}
}
