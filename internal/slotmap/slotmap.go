// SPDX-License-Identifier: MIT

// Package slotmap parses and validates the crate's module-index to
// hardware-slot-number assignment: a compact string describing a fixed
// assignment, validated with a precompiled regexp, looked up by index.
package slotmap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// entryRegex matches one "index:slot" pair, e.g. "2:3".
var entryRegex = regexp.MustCompile(`^([0-9]+):([0-9]+)$`)

// SlotMap is an immutable module-index -> hardware-slot-number table.
type SlotMap struct {
	bySlot  map[int]int // slot -> module index
	byIndex map[int]int // module index -> slot
}

// Parse parses a compact slot-map string of comma-separated "index:slot"
// pairs, order-insensitive, e.g. "0:2,1:3,2:5,3:7".
//
// Returns an error if the string is malformed, if any module index or slot
// number appears more than once, or if any index or slot is negative.
func Parse(spec string) (*SlotMap, error) {
	sm := &SlotMap{
		bySlot:  make(map[int]int),
		byIndex: make(map[int]int),
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("slotmap: empty slot map")
	}

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		m := entryRegex.FindStringSubmatch(field)
		if m == nil {
			return nil, fmt.Errorf("slotmap: malformed entry %q (want index:slot)", field)
		}

		index, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("slotmap: invalid module index in %q: %w", field, err)
		}
		slot, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("slotmap: invalid slot number in %q: %w", field, err)
		}

		if _, dup := sm.byIndex[index]; dup {
			return nil, fmt.Errorf("slotmap: module index %d assigned more than once", index)
		}
		if _, dup := sm.bySlot[slot]; dup {
			return nil, fmt.Errorf("slotmap: slot %d assigned to more than one module", slot)
		}

		sm.byIndex[index] = slot
		sm.bySlot[slot] = index
	}

	if len(sm.byIndex) == 0 {
		return nil, fmt.Errorf("slotmap: no valid entries in %q", spec)
	}

	return sm, nil
}

// Expected implements hardware.SlotExpecter: the hardware slot number a
// module index is expected to report.
func (sm *SlotMap) Expected(modIndex int) (slot int, ok bool) {
	slot, ok = sm.byIndex[modIndex]
	return slot, ok
}

// ModuleForSlot returns the module index assigned to a given hardware slot.
func (sm *SlotMap) ModuleForSlot(slot int) (modIndex int, ok bool) {
	modIndex, ok = sm.bySlot[slot]
	return modIndex, ok
}

// Len returns the number of modules described by the map.
func (sm *SlotMap) Len() int { return len(sm.byIndex) }

// Indices returns the module indices in ascending order.
func (sm *SlotMap) Indices() []int {
	out := make([]int, 0, len(sm.byIndex))
	for idx := range sm.byIndex {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Consistent reports whether the slot map describes exactly `modules`
// contiguous module indices starting at 0 — the shape RunController and the
// diagnose command expect from a valid configuration.
func (sm *SlotMap) Consistent(modules int) error {
	if sm.Len() != modules {
		return fmt.Errorf("slotmap: configured modules=%d but slot map has %d entries", modules, sm.Len())
	}
	for i := 0; i < modules; i++ {
		if _, ok := sm.byIndex[i]; !ok {
			return fmt.Errorf("slotmap: missing entry for module index %d", i)
		}
	}
	return nil
}

// String renders the slot map back to its compact "index:slot,..." form, in
// ascending index order, so Parse(sm.String()) round-trips.
func (sm *SlotMap) String() string {
	indices := sm.Indices()
	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		parts = append(parts, fmt.Sprintf("%d:%d", idx, sm.byIndex[idx]))
	}
	return strings.Join(parts, ",")
}
