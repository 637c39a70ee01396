// Package ckpt persists realized networks as single-file checkpoints under a
// run directory and tracks the best epoch by validation accuracy.
package ckpt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/classnets/classnets/nn"
	"github.com/classnets/classnets/optim"
)

var (
	ErrNotCheckpoint     = errors.New("ckpt: not a checkpoint file")
	ErrCorruptCheckpoint = errors.New("ckpt: corrupt checkpoint")
	ErrVersion           = errors.New("ckpt: unsupported checkpoint version")
)

const (
	subdir       = "checkpoints"
	bestName     = "best_model.ckpt"
	epochPattern = "model_epoch%03d.ckpt"
)

var epochRe = regexp.MustCompile(`^model_epoch(\d+)\.ckpt$`)

// Meta is the JSON header section of a checkpoint file.
type Meta struct {
	Arch        string  `json:"arch"`
	Classes     int     `json:"classes"`
	Input       [3]int  `json:"input"`
	Epoch       int     `json:"epoch"`
	SavedAt     int64   `json:"saved_at"`
	Tensors     int     `json:"tensors"`
	Params      int     `json:"params"`
	ValAccuracy float64 `json:"val_accuracy,omitempty"`
	Optimizer   string  `json:"optimizer,omitempty"`
}

// EpochResult is one epoch of validation history, the input to best-epoch
// selection.
type EpochResult struct {
	Epoch       int     `json:"epoch"`
	ValAccuracy float64 `json:"val_accuracy"`
}

// BestEpoch picks the result with the highest positive validation accuracy.
// Ties keep the earliest epoch. ok is false when no result qualifies.
func BestEpoch(results []EpochResult) (EpochResult, bool) {
	var best EpochResult
	ok := false
	for _, r := range results {
		if r.ValAccuracy <= 0 {
			continue
		}
		if !ok || r.ValAccuracy > best.ValAccuracy {
			best = r
			ok = true
		}
	}
	return best, ok
}

// Store addresses the checkpoints of one run directory. Files live under
// Root/checkpoints.
type Store struct {
	Root string
}

// Entry pairs a checkpoint path with its parsed meta.
type Entry struct {
	Path string
	Meta Meta
}

// SaveOption adjusts a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	optState *optim.State
}

// WithOptimizerState embeds an optimizer snapshot so a run can resume from
// the checkpoint.
func WithOptimizerState(st optim.State) SaveOption {
	return func(o *saveOptions) {
		o.optState = &st
	}
}

func (s *Store) Dir() string {
	return filepath.Join(s.Root, subdir)
}

func (s *Store) epochPath(epoch int) string {
	return filepath.Join(s.Dir(), fmt.Sprintf(epochPattern, epoch))
}

// BestPath is where the best-model copy lives, whether or not one exists yet.
func (s *Store) BestPath() string {
	return filepath.Join(s.Dir(), bestName)
}

// Save writes the epoch checkpoint and then refreshes the best-model copy
// from results. A failed write never leaves a partial file behind.
func (s *Store) Save(net *nn.Network, epoch int, results []EpochResult, opts ...SaveOption) (string, error) {
	if net == nil {
		return "", errors.New("ckpt: nil network")
	}
	if epoch < 0 {
		return "", fmt.Errorf("ckpt: negative epoch %d", epoch)
	}
	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}

	in := net.Input()
	meta := Meta{
		Arch:    net.Arch(),
		Classes: net.Classes(),
		Input:   [3]int{in.Channels, in.Height, in.Width},
		Epoch:   epoch,
		SavedAt: time.Now().Unix(),
		Tensors: len(net.Params()),
		Params:  net.ParamCount(),
	}
	for _, r := range results {
		if r.Epoch == epoch {
			meta.ValAccuracy = r.ValAccuracy
		}
	}
	if so.optState != nil {
		meta.Optimizer = so.optState.Name
	}

	raw, err := encode(net.Params(), meta, so.optState)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("ckpt: creating %s: %w", s.Dir(), err)
	}
	path := s.epochPath(epoch)
	if err := writeAtomic(path, raw); err != nil {
		return "", err
	}
	if _, _, err := s.UpdateBest(results); err != nil {
		return "", err
	}
	return path, nil
}

// UpdateBest recomputes the best epoch from results and copies its
// checkpoint to best_model.ckpt. A best epoch whose file is missing is
// skipped without error, matching the forgiving behavior of the training
// workflow this store serves.
func (s *Store) UpdateBest(results []EpochResult) (string, bool, error) {
	best, ok := BestEpoch(results)
	if !ok {
		return "", false, nil
	}
	src := s.epochPath(best.Epoch)
	raw, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ckpt: reading best source %s: %w", src, err)
	}
	dst := s.BestPath()
	if err := writeAtomic(dst, raw); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Load rebuilds the architecture recorded in the checkpoint and restores its
// weights. The returned network is ready for inference.
func (s *Store) Load(path string) (*nn.Network, Meta, error) {
	meta, params, _, err := decodeFile(path)
	if err != nil {
		return nil, Meta{}, err
	}
	net, err := nn.Build(meta.Arch, nn.ArchOptions{
		NumClasses: meta.Classes,
		Input: nn.Shape{
			Channels: meta.Input[0],
			Height:   meta.Input[1],
			Width:    meta.Input[2],
		},
	})
	if err != nil {
		return nil, Meta{}, fmt.Errorf("ckpt: rebuilding %q: %w", meta.Arch, err)
	}
	if len(params) != len(net.Params()) {
		return nil, Meta{}, fmt.Errorf("%w: %d tensors for %q, want %d",
			ErrCorruptCheckpoint, len(params), meta.Arch, len(net.Params()))
	}
	for _, p := range params {
		dst, ok := net.LookupParam(p.Name)
		if !ok {
			return nil, Meta{}, fmt.Errorf("%w: unexpected tensor %q", ErrCorruptCheckpoint, p.Name)
		}
		if len(dst.Data) != len(p.Data) {
			return nil, Meta{}, fmt.Errorf("%w: tensor %q has %d values, want %d",
				ErrCorruptCheckpoint, p.Name, len(p.Data), len(dst.Data))
		}
		copy(dst.Data, p.Data)
	}
	return net, meta, nil
}

// LoadOptimizerState extracts the embedded optimizer snapshot. ok is false
// when the checkpoint was saved without one.
func (s *Store) LoadOptimizerState(path string) (optim.State, bool, error) {
	_, _, st, err := decodeFile(path)
	if err != nil {
		return optim.State{}, false, err
	}
	if st == nil {
		return optim.State{}, false, nil
	}
	return *st, true, nil
}

// List returns the epoch checkpoints sorted by epoch. The best-model copy is
// not included.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.Dir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ckpt: reading %s: %w", s.Dir(), err)
	}
	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() || !epochRe.MatchString(de.Name()) {
			continue
		}
		path := filepath.Join(s.Dir(), de.Name())
		meta, err := readMeta(path)
		if err != nil {
			return nil, fmt.Errorf("ckpt: %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{Path: path, Meta: meta})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Meta.Epoch < entries[j].Meta.Epoch
	})
	return entries, nil
}

// Best returns the current best-model entry. ok is false when no best copy
// exists yet.
func (s *Store) Best() (Entry, bool, error) {
	path := s.BestPath()
	meta, err := readMeta(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Path: path, Meta: meta}, true, nil
}

// Verify fully reads a checkpoint, checking the container structure and the
// body checksum.
func (s *Store) Verify(path string) error {
	_, _, _, err := decodeFile(path)
	return err
}

// Prune deletes all but the newest keep epoch checkpoints. The best-model
// copy is never removed. Returns the deleted paths.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("ckpt: negative keep %d", keep)
	}
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}
	var removed []string
	for _, e := range entries[:len(entries)-keep] {
		if err := os.Remove(e.Path); err != nil {
			return removed, fmt.Errorf("ckpt: removing %s: %w", e.Path, err)
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

// writeAtomic stages into a temp file in the target directory and renames
// over path, so readers never observe a partial checkpoint.
func writeAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ckpt-*.tmp")
	if err != nil {
		return fmt.Errorf("ckpt: staging in %s: %w", dir, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("ckpt: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("ckpt: closing %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("ckpt: publishing %s: %w", path, err)
	}
	return nil
}
