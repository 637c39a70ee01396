package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/classnets/classnets/ckpt"
	"github.com/classnets/classnets/device"
	"github.com/classnets/classnets/imaging"
	"github.com/classnets/classnets/internal/logging"
	"github.com/classnets/classnets/nn"
	"github.com/classnets/classnets/runconfig"
)

func main() {
	configPath := flag.String("config", "configs/train.yaml", "run config path")
	checkpoint := flag.String("checkpoint", "", "checkpoint path (defaults to the run's best model)")
	imagePath := flag.String("image", "", "image to classify")
	topk := flag.Int("topk", 5, "classes to report")
	flag.Parse()

	logging.Init("inferctl")
	if *imagePath == "" {
		log.Fatal().Msg("missing -image")
	}

	cfg, err := runconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load run config")
	}

	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		log.Warn().Err(err).Str("device", cfg.Device).Msg("device unavailable, falling back to cpu")
		if dev, err = device.Resolve("cpu"); err != nil {
			log.Fatal().Err(err).Msg("no usable device")
		}
	}
	log.Info().Str("device", dev.String()).Msg("resolved compute device")

	store := &ckpt.Store{Root: cfg.Logging.CkptDir}
	path := *checkpoint
	if path == "" {
		entry, ok, err := store.Best()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read best checkpoint")
		}
		if !ok {
			log.Fatal().Str("dir", store.Dir()).Msg("no best checkpoint yet, pass -checkpoint")
		}
		path = entry.Path
	}

	net, meta, err := store.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load checkpoint")
	}
	log.Info().
		Str("arch", meta.Arch).
		Int("epoch", meta.Epoch).
		Int("params", meta.Params).
		Msg("loaded checkpoint")

	input, err := imaging.PreprocessFile(*imagePath, imaging.Options{
		Width:  meta.Input[2],
		Height: meta.Input[1],
	})
	if err != nil {
		log.Fatal().Err(err).Str("image", *imagePath).Msg("failed to preprocess image")
	}

	logits, err := net.Forward(input)
	if err != nil {
		log.Fatal().Err(err).Msg("forward pass failed")
	}
	probs := nn.Softmax(logits)

	classes := make([]int, len(probs))
	for i := range classes {
		classes[i] = i
	}
	sort.Slice(classes, func(i, j int) bool {
		return probs[classes[i]] > probs[classes[j]]
	})

	k := *topk
	if k <= 0 || k > len(classes) {
		k = len(classes)
	}
	fmt.Printf("Predictions for %s (%s, epoch %d)\n", *imagePath, meta.Arch, meta.Epoch)
	for rank := 0; rank < k; rank++ {
		class := classes[rank]
		fmt.Printf("  %d. class %-4d %6.2f%%\n", rank+1, class, probs[class]*100)
	}
}
