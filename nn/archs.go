package nn

// Built-in architectures. CustomNet is the small baseline convnet; the
// resnet family follows the standard stage layout (widths 64/128/256/512,
// basic blocks for 18/34, bottleneck blocks with expansion 4 for the rest).
func init() {
	mustRegister("CustomNet", customNet)
	mustRegister("resnet18", resnet([4]int{2, 2, 2, 2}, false))
	mustRegister("resnet34", resnet([4]int{3, 4, 6, 3}, false))
	mustRegister("resnet50", resnet([4]int{3, 4, 6, 3}, true))
	mustRegister("resnet101", resnet([4]int{3, 4, 23, 3}, true))
	mustRegister("resnet152", resnet([4]int{3, 8, 36, 3}, true))
}

func customNet(opts ArchOptions) ([]LayerSpec, error) {
	return []LayerSpec{
		Conv{Feats: 16, Size: 3, Stride: 1, Pad: 1},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Conv{Feats: 32, Size: 3, Stride: 1, Pad: 1},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Flatten{},
		Linear{Nout: 128},
		Activation{Atype: "relu"},
		Linear{Nout: opts.NumClasses},
	}, nil
}

func resnet(blocks [4]int, bottleneck bool) ArchBuilder {
	return func(opts ArchOptions) ([]LayerSpec, error) {
		specs := []LayerSpec{
			Conv{Feats: 64, Size: 7, Stride: 2, Pad: 3, NoBias: true},
			BatchNorm{},
			Activation{Atype: "relu"},
			MaxPool{Size: 3, Stride: 2, Pad: 1},
		}
		widths := [4]int{64, 128, 256, 512}
		expansion := 1
		if bottleneck {
			expansion = 4
		}
		inPlanes := 64
		for stage := 0; stage < 4; stage++ {
			planes := widths[stage]
			for b := 0; b < blocks[stage]; b++ {
				stride := 1
				if b == 0 && stage > 0 {
					stride = 2
				}
				var body []LayerSpec
				if bottleneck {
					body = []LayerSpec{
						Conv{Feats: planes, Size: 1, NoBias: true},
						BatchNorm{},
						Activation{Atype: "relu"},
						Conv{Feats: planes, Size: 3, Stride: stride, Pad: 1, NoBias: true},
						BatchNorm{},
						Activation{Atype: "relu"},
						Conv{Feats: planes * expansion, Size: 1, NoBias: true},
						BatchNorm{},
					}
				} else {
					body = []LayerSpec{
						Conv{Feats: planes, Size: 3, Stride: stride, Pad: 1, NoBias: true},
						BatchNorm{},
						Activation{Atype: "relu"},
						Conv{Feats: planes, Size: 3, Pad: 1, NoBias: true},
						BatchNorm{},
					}
				}
				specs = append(specs, Residual{
					Body:       body,
					Projection: stride != 1 || inPlanes != planes*expansion,
				})
				inPlanes = planes * expansion
			}
		}
		specs = append(specs, GlobalAvgPool{}, Linear{Nout: opts.NumClasses})
		return specs, nil
	}
}
