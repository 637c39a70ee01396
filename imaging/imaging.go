// Package imaging converts decoded images into network input tensors, the
// same normalization the training pipeline applies: RGB, fixed resize,
// CHW float32 in [0,1], leading batch dimension.
package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/classnets/classnets/nn"
)

var ErrBadTarget = errors.New("imaging: bad target size")

// Default inference resolution, width by height.
const (
	DefaultWidth  = 240
	DefaultHeight = 160
)

// Options selects the resize target. Zero fields fall back to the defaults.
type Options struct {
	Width  int
	Height int
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	return o
}

// Preprocess resizes img and packs it as a {1,3,H,W} tensor scaled to
// [0,1]. Grayscale inputs come out with three equal channels.
func Preprocess(img image.Image, opts Options) (*nn.Tensor, error) {
	if img == nil {
		return nil, errors.New("imaging: nil image")
	}
	opts = opts.withDefaults()
	if opts.Width < 1 || opts.Height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadTarget, opts.Width, opts.Height)
	}
	bounds := img.Bounds()
	if bounds.Dx() < 1 || bounds.Dy() < 1 {
		return nil, errors.New("imaging: empty image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	t, err := nn.NewTensor(1, 3, opts.Height, opts.Width)
	if err != nil {
		return nil, err
	}
	plane := opts.Height * opts.Width
	for y := 0; y < opts.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < opts.Width; x++ {
			i := y*opts.Width + x
			t.Data[i] = float32(row[4*x]) / 255
			t.Data[plane+i] = float32(row[4*x+1]) / 255
			t.Data[2*plane+i] = float32(row[4*x+2]) / 255
		}
	}
	return t, nil
}

// Load decodes a png or jpeg file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: opening %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding %s: %w", path, err)
	}
	return img, nil
}

// PreprocessFile loads and preprocesses in one call, the inference-tool path.
func PreprocessFile(path string, opts Options) (*nn.Tensor, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, opts)
}
