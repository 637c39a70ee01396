package runconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrUnknownKind = errors.New("runconfig: unknown template kind")

const trainTemplate = `# classnets run configuration
Device: cpu            # cpu, cuda, cuda:N

Model:
  arch: resnet18       # CustomNet, resnet18, resnet34, resnet50, resnet101, resnet152
  num_classes: 10
  input_shape: [160, 240]   # height, width
  channels: 3

Train:
  optimizer: adam      # adam or sgd
  lr: 0.001
  momentum: 0.9
  weight_decay: 0.0
  epochs: 10
  batch_size: 32

Logging:
  ckpt_dir: runs/exp1
  tb_logdir: tb_logs
`

const minimalTemplate = `Model:
  arch: CustomNet
  num_classes: 10
Logging:
  ckpt_dir: runs/exp1
  tb_logdir: tb_logs
`

// Template returns the named starter config.
func Template(kind string) (string, error) {
	switch kind {
	case "train":
		return trainTemplate, nil
	case "minimal":
		return minimalTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// WriteTemplate writes the named template to path. An existing file is only
// overwritten with force.
func WriteTemplate(path, kind string, force bool) error {
	tpl, err := Template(kind)
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("runconfig: %s already exists (use force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("runconfig: creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(tpl), 0o644); err != nil {
		return fmt.Errorf("runconfig: writing %s: %w", path, err)
	}
	return nil
}
