package features

// NormalizationStep transforms one pixel. Values enter in the 0-255 range.
type NormalizationStep interface {
	Apply(r, g, b float32) (float32, float32, float32)
}

type rescale struct{}

// RescaleStep maps 0-255 to 0-1.
func RescaleStep() NormalizationStep {
	return rescale{}
}

func (rescale) Apply(r, g, b float32) (float32, float32, float32) {
	const scale = float32(1.0 / 255.0)
	return r * scale, g * scale, b * scale
}

type pixelNormalization struct {
	mean [3]float32
	std  [3]float32
}

// PixelNormalizationStep subtracts mean and divides by std per channel.
func PixelNormalizationStep(mean, std [3]float32) NormalizationStep {
	return pixelNormalization{mean: mean, std: std}
}

func (p pixelNormalization) Apply(r, g, b float32) (float32, float32, float32) {
	return (r - p.mean[0]) / p.std[0],
		(g - p.mean[1]) / p.std[1],
		(b - p.mean[2]) / p.std[2]
}

// ImagenetSteps is the DenseNet preprocessing: rescale, then ImageNet mean and std.
func ImagenetSteps() []NormalizationStep {
	return []NormalizationStep{
		RescaleStep(),
		PixelNormalizationStep([3]float32{0.485, 0.456, 0.406}, [3]float32{0.229, 0.224, 0.225}),
	}
}
