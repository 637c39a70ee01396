// Package tblog writes TensorBoard-compatible scalar event files and reads
// them back for the run board.
package tblog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrClosed        = errors.New("tblog: writer closed")
	ErrCorruptEvents = errors.New("tblog: corrupt event record")
)

// Writer appends scalar events to a single tfevents file inside its run
// directory. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	dir    string
	path   string
	closed bool
}

// Open prepares the run directory root/base(run) and starts a fresh events
// file in it. An existing directory for the same run is wiped first, so each
// run starts with a clean event history. The run argument may be a path;
// only its base name is used, which lets callers pass the checkpoint
// directory straight through.
func Open(root, run string) (*Writer, error) {
	base := filepath.Base(filepath.Clean(run))
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return nil, fmt.Errorf("tblog: bad run name %q", run)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("tblog: creating %s: %w", root, err)
	}
	dir := filepath.Join(root, base)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("tblog: clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tblog: creating %s: %w", dir, err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", time.Now().Unix(), host))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tblog: creating %s: %w", path, err)
	}
	w := &Writer{
		f:    f,
		bw:   bufio.NewWriter(f),
		dir:  dir,
		path: path,
	}
	if err := w.writeRecord(encodeVersionEvent(now())); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Dir returns the run directory this writer logs into.
func (w *Writer) Dir() string { return w.dir }

// Path returns the events file path.
func (w *Writer) Path() string { return w.path }

// Scalar appends one scalar point under tag.
func (w *Writer) Scalar(tag string, step int64, value float64) error {
	if tag == "" {
		return errors.New("tblog: empty tag")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.writeRecordLocked(encodeScalarEvent(now(), step, tag, value))
}

// Flush pushes buffered records to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked()
}

// Close flushes and closes the events file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.flushLocked()
	closeErr := w.f.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("tblog: closing %s: %w", w.path, closeErr)
	}
	return nil
}

func (w *Writer) writeRecord(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecordLocked(payload)
}

func (w *Writer) writeRecordLocked(payload []byte) error {
	if _, err := w.bw.Write(appendRecord(nil, payload)); err != nil {
		return fmt.Errorf("tblog: writing %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) flushLocked() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("tblog: flushing %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("tblog: syncing %s: %w", w.path, err)
	}
	return nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
