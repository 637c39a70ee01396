package main

import (
	"flag"
	"log"

	"github.com/classnets/classnets/runconfig"
)

func main() {
	kind := flag.String("kind", "train", "config kind: train|minimal")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if _, err := runconfig.Load(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := runconfig.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "train":
		return "configs/train.yaml"
	case "minimal":
		return "configs/minimal.yaml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
