// Package runconfig loads and validates run configuration files. The tree
// mirrors the training workflow's config: capitalized Model/Train/Logging
// sections with snake_case leaves, plus a top-level device spec.
package runconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/classnets/classnets/nn"
	"github.com/classnets/classnets/optim"
)

var (
	ErrInvalidConfig = errors.New("runconfig: invalid config")
	ErrUnknownFormat = errors.New("runconfig: unknown config format")
)

const ArchiveName = "config.yaml"

type Model struct {
	Arch       string `yaml:"arch" toml:"arch" json:"arch"`
	NumClasses int    `yaml:"num_classes" toml:"num_classes" json:"num_classes"`
	InputShape []int  `yaml:"input_shape" toml:"input_shape" json:"input_shape"` // height, width
	Channels   int    `yaml:"channels" toml:"channels" json:"channels"`
}

type Train struct {
	Optimizer   string  `yaml:"optimizer" toml:"optimizer" json:"optimizer"`
	LR          float64 `yaml:"lr" toml:"lr" json:"lr"`
	Momentum    float64 `yaml:"momentum" toml:"momentum" json:"momentum"`
	WeightDecay float64 `yaml:"weight_decay" toml:"weight_decay" json:"weight_decay"`
	Epochs      int     `yaml:"epochs" toml:"epochs" json:"epochs"`
	BatchSize   int     `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
}

type Logging struct {
	CkptDir  string `yaml:"ckpt_dir" toml:"ckpt_dir" json:"ckpt_dir"`
	TBLogdir string `yaml:"tb_logdir" toml:"tb_logdir" json:"tb_logdir"`
}

type Config struct {
	Device  string  `yaml:"Device" toml:"Device" json:"Device"`
	Model   Model   `yaml:"Model" toml:"Model" json:"Model"`
	Train   Train   `yaml:"Train" toml:"Train" json:"Train"`
	Logging Logging `yaml:"Logging" toml:"Logging" json:"Logging"`
}

// Default returns a complete baseline configuration. Load decodes on top of
// it, so partial files inherit these values.
func Default() Config {
	return Config{
		Device: "cpu",
		Model: Model{
			Arch:       "CustomNet",
			NumClasses: 10,
			InputShape: []int{160, 240},
			Channels:   3,
		},
		Train: Train{
			Optimizer: "adam",
			LR:        0.001,
			Momentum:  0.9,
			Epochs:    10,
			BatchSize: 32,
		},
		Logging: Logging{
			CkptDir:  "runs/exp1",
			TBLogdir: "tb_logs",
		},
	}
}

// Load reads a .yaml/.yml or .toml config, fills defaults and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("runconfig: load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("runconfig: load failed (%s): %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("runconfig: load failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("runconfig: load failed (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Model.Arch == "" {
		return fmt.Errorf("%w: Model.arch is empty", ErrInvalidConfig)
	}
	if cfg.Model.NumClasses < 2 {
		return fmt.Errorf("%w: Model.num_classes %d, need at least 2", ErrInvalidConfig, cfg.Model.NumClasses)
	}
	if len(cfg.Model.InputShape) != 2 || cfg.Model.InputShape[0] < 1 || cfg.Model.InputShape[1] < 1 {
		return fmt.Errorf("%w: Model.input_shape %v, want [height width]", ErrInvalidConfig, cfg.Model.InputShape)
	}
	if cfg.Model.Channels < 1 {
		return fmt.Errorf("%w: Model.channels %d", ErrInvalidConfig, cfg.Model.Channels)
	}
	if cfg.Train.Optimizer == "" {
		return fmt.Errorf("%w: Train.optimizer is empty", ErrInvalidConfig)
	}
	if cfg.Train.LR <= 0 {
		return fmt.Errorf("%w: Train.lr %v", ErrInvalidConfig, cfg.Train.LR)
	}
	if cfg.Train.Epochs < 1 {
		return fmt.Errorf("%w: Train.epochs %d", ErrInvalidConfig, cfg.Train.Epochs)
	}
	if cfg.Train.BatchSize < 1 {
		return fmt.Errorf("%w: Train.batch_size %d", ErrInvalidConfig, cfg.Train.BatchSize)
	}
	if cfg.Logging.CkptDir == "" {
		return fmt.Errorf("%w: Logging.ckpt_dir is empty", ErrInvalidConfig)
	}
	if cfg.Logging.TBLogdir == "" {
		return fmt.Errorf("%w: Logging.tb_logdir is empty", ErrInvalidConfig)
	}
	if cfg.Device == "" {
		return fmt.Errorf("%w: Device is empty", ErrInvalidConfig)
	}
	return nil
}

// ArchOptions maps the Model section onto architecture build options. An
// input shape that is not [height width] passes through as zero dimensions
// for nn.Build to handle.
func (c Config) ArchOptions() nn.ArchOptions {
	opts := nn.ArchOptions{
		NumClasses: c.Model.NumClasses,
		Input:      nn.Shape{Channels: c.Model.Channels},
	}
	if len(c.Model.InputShape) == 2 {
		opts.Input.Height = c.Model.InputShape[0]
		opts.Input.Width = c.Model.InputShape[1]
	}
	return opts
}

// OptimConfig maps the Train section onto optimizer hyperparameters,
// starting from the optimizer's usual defaults.
func (c Config) OptimConfig() optim.Config {
	oc := optim.Default(c.Train.Optimizer)
	oc.LR = c.Train.LR
	oc.Momentum = c.Train.Momentum
	oc.WeightDecay = c.Train.WeightDecay
	return oc
}

// Archive writes the effective config as config.yaml into the checkpoint
// directory, so every run keeps the exact configuration it ran with.
func Archive(cfg Config, ckptDir string) (string, error) {
	if err := os.MkdirAll(ckptDir, 0o755); err != nil {
		return "", fmt.Errorf("runconfig: creating %s: %w", ckptDir, err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("runconfig: encoding config: %w", err)
	}
	path := filepath.Join(ckptDir, ArchiveName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("runconfig: writing %s: %w", path, err)
	}
	return path, nil
}
