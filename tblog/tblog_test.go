package tblog

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/classnets/classnets/internal/testutil/testlog"
)

func TestWriteAndReadScalars(t *testing.T) {
	testlog.Start(t)

	root := t.TempDir()
	w, err := Open(root, "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w.Dir() != filepath.Join(root, "exp1") {
		t.Fatalf("Dir() = %q", w.Dir())
	}
	if !strings.HasPrefix(filepath.Base(w.Path()), "events.out.tfevents.") {
		t.Fatalf("events file name %q", filepath.Base(w.Path()))
	}

	values := []float64{0.9, 0.75, 0.6}
	for i, v := range values {
		if err := w.Scalar("train/loss", int64(i+1), v); err != nil {
			t.Fatalf("Scalar: %v", err)
		}
	}
	if err := w.Scalar("val/accuracy", 1, 0.5); err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scalars, err := ReadScalars(w.Dir())
	if err != nil {
		t.Fatalf("ReadScalars: %v", err)
	}
	loss := scalars["train/loss"]
	if len(loss) != 3 {
		t.Fatalf("got %d loss points, want 3", len(loss))
	}
	for i, p := range loss {
		if p.Step != int64(i+1) {
			t.Fatalf("point %d step %d, want %d", i, p.Step, i+1)
		}
		if want := float64(float32(values[i])); math.Abs(p.Value-want) > 1e-9 {
			t.Fatalf("point %d value %v, want %v", i, p.Value, want)
		}
		if p.WallTime <= 0 {
			t.Fatalf("point %d wall time %v", i, p.WallTime)
		}
	}
	if len(scalars["val/accuracy"]) != 1 {
		t.Fatalf("accuracy points: %d, want 1", len(scalars["val/accuracy"]))
	}
	// The version event carries no summary and must not surface as a tag.
	if _, ok := scalars[""]; ok {
		t.Fatalf("version event leaked into scalars")
	}
}

func TestOpenWipesExistingRun(t *testing.T) {
	testlog.Start(t)

	root := t.TempDir()
	w, err := Open(root, "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Scalar("old", 1, 1); err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(root, "exp1")
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	if err := w2.Scalar("new", 1, 2); err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scalars, err := ReadScalars(w2.Dir())
	if err != nil {
		t.Fatalf("ReadScalars: %v", err)
	}
	if _, ok := scalars["old"]; ok {
		t.Fatalf("old run data survived reopen")
	}
	if len(scalars["new"]) != 1 {
		t.Fatalf("new run data missing: %v", scalars)
	}
}

func TestOpenUsesRunBaseName(t *testing.T) {
	testlog.Start(t)

	root := t.TempDir()
	w, err := Open(root, filepath.Join("some", "nested", "ckpt-dir"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	if w.Dir() != filepath.Join(root, "ckpt-dir") {
		t.Fatalf("Dir() = %q", w.Dir())
	}
}

func TestOpenRejectsBadRunName(t *testing.T) {
	testlog.Start(t)

	for _, run := range []string{"", ".", "..", "/"} {
		if _, err := Open(t.TempDir(), run); err == nil {
			t.Fatalf("expected error for run %q", run)
		}
	}
}

func TestScalarAfterClose(t *testing.T) {
	testlog.Start(t)

	w, err := Open(t.TempDir(), "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Scalar("x", 1, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.Flush(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush: expected ErrClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestScalarRejectsEmptyTag(t *testing.T) {
	testlog.Start(t)

	w, err := Open(t.TempDir(), "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	if err := w.Scalar("", 1, 1); err == nil {
		t.Fatalf("expected error for empty tag")
	}
}

func TestReadToleratesTrailingPartialRecord(t *testing.T) {
	testlog.Start(t)

	w, err := Open(t.TempDir(), "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := w.Scalar("loss", int64(i), float64(i)); err != nil {
			t.Fatalf("Scalar: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Chop the last record in half, as a crashed writer would.
	raw, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(w.Path(), raw[:len(raw)-5], 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	scalars, err := ReadScalars(w.Dir())
	if err != nil {
		t.Fatalf("ReadScalars: %v", err)
	}
	if len(scalars["loss"]) != 2 {
		t.Fatalf("got %d points after truncation, want 2", len(scalars["loss"]))
	}

	// Stray trailing bytes shorter than a record header are ignored too.
	if err := os.WriteFile(w.Path(), append(raw, 1, 2, 3, 4, 5, 6), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	scalars, err = ReadScalars(w.Dir())
	if err != nil {
		t.Fatalf("ReadScalars: %v", err)
	}
	if len(scalars["loss"]) != 3 {
		t.Fatalf("got %d points with stray bytes, want 3", len(scalars["loss"]))
	}
}

func TestReadDetectsCorruptRecord(t *testing.T) {
	testlog.Start(t)

	w, err := Open(t.TempDir(), "exp1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Scalar("loss", 1, 0.5); err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[13] ^= 0xff
	if err := os.WriteFile(w.Path(), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadScalars(w.Dir()); !errors.Is(err, ErrCorruptEvents) {
		t.Fatalf("expected ErrCorruptEvents, got %v", err)
	}
}

func TestReadScalarsMissingDir(t *testing.T) {
	testlog.Start(t)

	if _, err := ReadScalars(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
