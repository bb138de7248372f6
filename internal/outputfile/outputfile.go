// SPDX-License-Identifier: MIT

// Package outputfile implements the rolling run-file writer: a single
// logical run is written across one or more physical files, each capped
// below 2 GiB so a reader never has to stitch a write that straddled the
// cap. A functional-options constructor and mutex-protected Write drive
// size-triggered rotation that closes the current file and opens the
// next sub-file, naming sub-files by run number rather than a
// this.log/this.log.1/this.log.2 retention scheme.
package outputfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MaxFileSize is the hard per-file cap: files are rolled over before
// reaching 2 GiB.
const MaxFileSize int64 = 2 * 1024 * 1024 * 1024

// EOFReserve is the tail margin reserved so that a single Write never
// pushes a file past MaxFileSize mid-record: once size+EOFReserve would
// exceed the cap, the file is rolled before the write lands.
const EOFReserve int64 = 65552

// Notifier is the subset of broadcast.Client that OutputFile needs for
// SendPacket, kept as an interface so outputfile does not need to know
// about UDP framing.
type Notifier interface {
	SendNotification(filename string, size int64, runNum int) error
}

// Option configures a File at construction using the functional-options
// pattern.
type Option func(*File)

// WithMaxSize overrides MaxFileSize (tests use small caps to exercise
// rollover without writing gigabytes).
func WithMaxSize(n int64) Option {
	return func(f *File) { f.maxSize = n }
}

// WithEOFReserve overrides EOFReserve.
func WithEOFReserve(n int64) Option {
	return func(f *File) { f.eofReserve = n }
}

// WithDebugMode sets the debug flag that DebugMode reports. Write does not
// read the flag: data is written to the file in either mode.
func WithDebugMode(on bool) Option {
	return func(f *File) { f.debug = on }
}

// File is the active run-output writer. One File exists per running
// acquisition; OpenNewFile replaces its underlying *os.File when a new
// run starts, and Write replaces it when a sub-file rollover is needed.
type File struct {
	mu sync.Mutex

	dir    string
	prefix string
	title  string
	runNum int

	maxSize    int64
	eofReserve int64
	debug      bool

	f         *os.File
	size      int64
	subIndex  int
	openedAny bool
}

// New creates a File with default cap/reserve, applying opts.
func New(opts ...Option) *File {
	f := &File{
		maxSize:    MaxFileSize,
		eofReserve: EOFReserve,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GetNextFileName computes the path for sub-file subIndex of runNum,
// following the on-disk naming convention
// "{outputDir}/{prefix}_{runNum}[_{subFile}].ldf" — the first sub-file
// carries no sub-file suffix at all.
func GetNextFileName(dir, prefix, title string, runNum, subIndex int) string {
	base := fmt.Sprintf("%s_%d", prefix, runNum)
	if subIndex > 0 {
		base = fmt.Sprintf("%s_%d", base, subIndex)
	}
	return filepath.Join(dir, base+".ldf")
}

// OpenNewFile opens the first sub-file of a new run, truncating any
// stale continuation state. continueRun, when true, resumes numbering
// from an existing run directory instead of starting sub-index 0 (used
// when an acquisition is restarted after a crash without advancing the
// run number).
func (f *File) OpenNewFile(dir, prefix, title string, runNum int, continueRun bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dir = dir
	f.prefix = prefix
	f.title = title
	f.runNum = runNum

	subIndex := 0
	if continueRun {
		subIndex = f.nextFreeSubIndexLocked()
	}
	f.subIndex = subIndex

	if err := f.openLocked(); err != nil {
		return false, err
	}
	f.openedAny = true
	return true, nil
}

// nextFreeSubIndexLocked scans dir for the lowest sub-index not already
// present on disk, so a resumed run does not clobber an existing
// sub-file.
func (f *File) nextFreeSubIndexLocked() int {
	for i := 0; ; i++ {
		path := GetNextFileName(f.dir, f.prefix, f.title, f.runNum, i)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return i
		}
	}
}

func (f *File) openLocked() error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("outputfile: create dir %q: %w", f.dir, err)
	}
	path := GetNextFileName(f.dir, f.prefix, f.title, f.runNum, f.subIndex)
	of, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("outputfile: open %q: %w", path, err)
	}
	if f.f != nil {
		_ = f.f.Close()
	}
	f.f = of
	f.size = 0
	return nil
}

// rolloverLocked closes the current sub-file and opens the next one in
// sequence.
func (f *File) rolloverLocked() error {
	f.subIndex++
	return f.openLocked()
}

// Write appends all of data to the active sub-file,
// rolling over first if the write would land inside EOFReserve of
// maxSize. Returns the number of bytes actually written to the (possibly
// just-opened) sub-file.
func (f *File) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return 0, fmt.Errorf("outputfile: Write called before OpenNewFile")
	}

	if f.size+int64(len(data))+f.eofReserve > f.maxSize {
		if err := f.rolloverLocked(); err != nil {
			return 0, fmt.Errorf("outputfile: rollover: %w", err)
		}
	}

	n, err := f.f.Write(data)
	f.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("outputfile: write: %w", err)
	}
	return n, nil
}

// Size returns the current sub-file's byte size.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// CurrentPath returns the path of the currently open sub-file.
func (f *File) CurrentPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return ""
	}
	return f.f.Name()
}

// SetDebugMode sets the debug flag (operator `debug` command). Write does
// not read it, so output is written to disk in debug mode as well.
func (f *File) SetDebugMode(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = on
}

// DebugMode reports whether the debug flag is set.
func (f *File) DebugMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debug
}

// SendPacket notifies client of the current sub-file's name and size.
// OutputFile hands its state to the broadcaster rather than the
// broadcaster polling the filesystem.
func (f *File) SendPacket(client Notifier) error {
	f.mu.Lock()
	path := f.CurrentPathLocked()
	size := f.size
	runNum := f.runNum
	f.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.SendNotification(filepath.Base(path), size, runNum)
}

// CurrentPathLocked is CurrentPath without acquiring the lock, for
// callers that already hold it.
func (f *File) CurrentPathLocked() string {
	if f.f == nil {
		return ""
	}
	return f.f.Name()
}

// Close closes the active sub-file. Safe to call on an unopened File.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	if err != nil {
		return fmt.Errorf("outputfile: close: %w", err)
	}
	return nil
}

// SubIndex returns the current sub-file index within the run (0 for the
// first sub-file).
func (f *File) SubIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subIndex
}
