package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/classnets/classnets/ckpt"
)

type options struct {
	mode string
	dir  string
	file string
	keep int
}

func main() {
	opts := parseFlags()
	store := &ckpt.Store{Root: opts.dir}

	var err error
	switch opts.mode {
	case "list":
		err = runList(store)
	case "show":
		err = runShow(store, opts.file)
	case "best":
		err = runBest(store)
	case "verify":
		err = runVerify(store, opts.file)
	case "prune":
		err = runPrune(store, opts.keep)
	default:
		fatalf("unknown mode %q (supported: list, show, best, verify, prune)", opts.mode)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "list", "mode: list | show | best | verify | prune")
	flag.StringVar(&opts.dir, "dir", "runs/exp1", "run directory holding the checkpoints subdir")
	flag.StringVar(&opts.file, "file", "", "checkpoint path (show mode; optional for verify)")
	flag.IntVar(&opts.keep, "keep", 3, "epoch checkpoints to keep (prune mode)")
	flag.Parse()
	return opts
}

func runList(store *ckpt.Store) error {
	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}
	fmt.Printf("Checkpoints in %s\n", store.Dir())
	for _, e := range entries {
		fmt.Printf("  %-24s epoch=%-4d arch=%-10s params=%-10d val_acc=%.4f\n",
			filepath.Base(e.Path), e.Meta.Epoch, e.Meta.Arch, e.Meta.Params, e.Meta.ValAccuracy)
	}
	return nil
}

func runShow(store *ckpt.Store, file string) error {
	if file == "" {
		return fmt.Errorf("show mode requires -file")
	}
	net, meta, err := store.Load(file)
	if err != nil {
		return err
	}
	fmt.Printf("Checkpoint %s\n", filepath.Base(file))
	fmt.Printf("  Arch:      %s\n", meta.Arch)
	fmt.Printf("  Classes:   %d\n", meta.Classes)
	fmt.Printf("  Input:     %dx%dx%d\n", meta.Input[0], meta.Input[1], meta.Input[2])
	fmt.Printf("  Epoch:     %d\n", meta.Epoch)
	fmt.Printf("  Tensors:   %d\n", meta.Tensors)
	fmt.Printf("  Params:    %d\n", meta.Params)
	if meta.ValAccuracy > 0 {
		fmt.Printf("  ValAcc:    %.4f\n", meta.ValAccuracy)
	}
	if meta.Optimizer != "" {
		fmt.Printf("  Optimizer: %s\n", meta.Optimizer)
	}
	fmt.Printf("  SavedAt:   %s\n", time.Unix(meta.SavedAt, 0).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Layers")
	for _, li := range net.Summary() {
		fmt.Printf("  %-20s %-10s out=%-12s params=%d\n", li.Name, li.Kind, li.Out.String(), li.Params)
	}
	return nil
}

func runBest(store *ckpt.Store) error {
	entry, ok, err := store.Best()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No best checkpoint yet.")
		return nil
	}
	fmt.Printf("Best checkpoint: %s\n", entry.Path)
	fmt.Printf("  epoch=%d arch=%s val_acc=%.4f\n",
		entry.Meta.Epoch, entry.Meta.Arch, entry.Meta.ValAccuracy)
	return nil
}

func runVerify(store *ckpt.Store, file string) error {
	var paths []string
	if file != "" {
		paths = []string{file}
	} else {
		entries, err := store.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		if _, err := os.Stat(store.BestPath()); err == nil {
			paths = append(paths, store.BestPath())
		}
	}
	if len(paths) == 0 {
		fmt.Println("Nothing to verify.")
		return nil
	}
	bad := 0
	for _, p := range paths {
		if err := store.Verify(p); err != nil {
			bad++
			fmt.Printf("  FAIL %s: %v\n", filepath.Base(p), err)
			continue
		}
		fmt.Printf("  ok   %s\n", filepath.Base(p))
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d checkpoints failed verification", bad, len(paths))
	}
	return nil
}

func runPrune(store *ckpt.Store, keep int) error {
	removed, err := store.Prune(keep)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	for _, p := range removed {
		fmt.Printf("  removed %s\n", filepath.Base(p))
	}
	fmt.Printf("Pruned %d checkpoints, kept the newest %d.\n", len(removed), keep)
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ckptctl: "+format+"\n", args...)
	os.Exit(1)
}
