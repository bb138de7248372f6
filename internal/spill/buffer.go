// SPDX-License-Identifier: MIT

package spill

import "fmt"

// HeaderWords is the number of header words prefixing each module's section
// in a spill buffer: [spillSizeIncludingHeader, moduleIndex].
const HeaderWords = 2

// Buffer is the preallocated spill buffer: a flat array sized
// (FIFOMax+2)*N words, filled module-by-module during a drain cycle and
// emitted as a single logical payload.
//
// Per module the layout is:
//
//	[spillSizeIncludingHeader, moduleIndex, word_0, ..., word_{k-1}]
//
// where spillSizeIncludingHeader = k + HeaderWords, backfilled once the
// module's word count is known.
type Buffer struct {
	words   []uint32
	modules int
	fifoMax int

	// cursor is the next free offset; sections are appended in module
	// order by BeginModule/EndModule.
	cursor int

	// headerAt records where BeginModule wrote the pending header, for the
	// matching EndModule backfill.
	headerAt int
	inModule bool
}

// NewBuffer preallocates a spill buffer for `modules` modules with a
// hardware FIFO capacity of `fifoMax` words.
func NewBuffer(modules, fifoMax int) *Buffer {
	return &Buffer{
		words:   make([]uint32, (fifoMax+HeaderWords)*modules),
		modules: modules,
		fifoMax: fifoMax,
	}
}

// Reset rewinds the buffer to empty without reallocating, for reuse across
// drain cycles.
func (b *Buffer) Reset() {
	b.cursor = 0
	b.headerAt = 0
	b.inModule = false
}

// BeginModule reserves the two header words for module m and writes m into
// the second one. The first (spillSizeIncludingHeader) is backfilled by
// EndModule.
func (b *Buffer) BeginModule(m int) error {
	if b.inModule {
		return fmt.Errorf("spill: BeginModule called while module section still open")
	}
	if b.cursor+HeaderWords > len(b.words) {
		return fmt.Errorf("spill: buffer exhausted reserving header for module %d", m)
	}
	b.headerAt = b.cursor
	b.words[b.cursor+1] = uint32(m)
	b.cursor += HeaderWords
	b.inModule = true
	return nil
}

// AppendWords copies src into the buffer immediately after the open
// module's header (and after any previously appended words for this
// module, e.g. the partial-event prefix followed by the freshly read
// words).
func (b *Buffer) AppendWords(src []uint32) error {
	if !b.inModule {
		return fmt.Errorf("spill: AppendWords called with no open module section")
	}
	if b.cursor+len(src) > len(b.words) {
		return fmt.Errorf("spill: buffer exhausted appending %d words", len(src))
	}
	copy(b.words[b.cursor:], src)
	b.cursor += len(src)
	return nil
}

// CurrentPayload returns the words appended to the open module section so
// far (excluding its header), for parsing before EndModule commits the
// section's length.
func (b *Buffer) CurrentPayload() []uint32 {
	return b.words[b.headerAt+HeaderWords : b.cursor]
}

// TruncateTail drops the last n words of the open module section, used
// when a trailing event turns out to be partial and must be carried over
// to the next spill instead of being emitted with this one.
func (b *Buffer) TruncateTail(n int) error {
	if !b.inModule {
		return fmt.Errorf("spill: TruncateTail called with no open module section")
	}
	if n > b.cursor-(b.headerAt+HeaderWords) {
		return fmt.Errorf("spill: TruncateTail(%d) exceeds current module section length", n)
	}
	b.cursor -= n
	return nil
}

// EndModule backfills the module's header with spillSizeIncludingHeader =
// (words written since BeginModule) + HeaderWords, and closes the section.
func (b *Buffer) EndModule() {
	k := b.cursor - (b.headerAt + HeaderWords)
	b.words[b.headerAt] = uint32(k + HeaderWords)
	b.inModule = false
}

// ModulePayload returns the words of the module section whose header
// starts at word offset headerAt, excluding the two header words — i.e. the slice
// ParseModule should walk. Valid only after EndModule for that section.
func (b *Buffer) ModulePayload(headerAt int) []uint32 {
	k := int(b.words[headerAt]) - HeaderWords
	return b.words[headerAt+HeaderWords : headerAt+HeaderWords+k]
}

// TotalWords returns the number of words written so far (the value passed
// to write_data/broadcast_data).
func (b *Buffer) TotalWords() int { return b.cursor }

// Words returns the written portion of the underlying array. Callers must
// not retain it across a Reset.
func (b *Buffer) Words() []uint32 { return b.words[:b.cursor] }

// HeaderOffset returns the buffer offset of the header most recently opened
// by BeginModule, for use with ModulePayload after EndModule.
func (b *Buffer) HeaderOffset() int { return b.headerAt }
