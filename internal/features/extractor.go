// Package features turns uploaded images into fixed-length feature vectors
// using a frozen image backbone.
package features

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/caption-api/internal/apperr"
	"github.com/Brownie44l1/caption-api/internal/model"
)

const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// Options configures preprocessing for the backbone.
type Options struct {
	// Size is the square spatial input size of the backbone.
	Size          int
	Layout        string
	Interpolation string
	Normalization []NormalizationStep
	// FeatureSize is the exact length of every returned vector.
	FeatureSize int
}

// Extractor maps raw image bytes to a feature vector. It holds no per-request
// state and is safe for concurrent use.
type Extractor struct {
	backbone      model.Runner
	size          int
	layout        string
	interpolation resize.InterpolationFunction
	normalization []NormalizationStep
	featureSize   int
}

func New(backbone model.Runner, o Options) (*Extractor, error) {
	interp, ok := interpolations[o.Interpolation]
	if !ok {
		if o.Interpolation != "" {
			return nil, fmt.Errorf("unknown interpolation %q", o.Interpolation)
		}
		interp = resize.Bicubic
	}
	if o.Size <= 0 || o.FeatureSize <= 0 {
		return nil, fmt.Errorf("size and feature size must be positive, got %d and %d", o.Size, o.FeatureSize)
	}
	layout := o.Layout
	if layout == "" {
		layout = LayoutNHWC
	}
	if layout != LayoutNHWC && layout != LayoutNCHW {
		return nil, fmt.Errorf("unknown layout %q", o.Layout)
	}
	norm := o.Normalization
	if norm == nil {
		norm = ImagenetSteps()
	}
	return &Extractor{
		backbone:      backbone,
		size:          o.Size,
		layout:        layout,
		interpolation: interp,
		normalization: norm,
		featureSize:   o.FeatureSize,
	}, nil
}

// FeatureSize is the length of every vector returned by Extract.
func (e *Extractor) FeatureSize() int {
	return e.featureSize
}

// Extract decodes, preprocesses and embeds an image. Every failure is a
// ProcessingError carrying a generic message; the cause is kept for logging.
func (e *Extractor) Extract(data []byte) ([]float32, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, apperr.Processing(apperr.MsgProcessImage, err)
	}
	input := e.Preprocess(img)
	out, err := e.backbone.Run(input)
	if err != nil {
		return nil, apperr.Processing(apperr.MsgProcessImage, fmt.Errorf("backbone: %w", err))
	}
	if len(out) == 0 {
		return nil, apperr.Processing(apperr.MsgProcessImage, errors.New("backbone returned no features"))
	}
	return Fit(out, e.featureSize), nil
}

// Decode decodes JPEG, PNG, GIF, BMP or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%s image has no pixels", format)
	}
	return img, nil
}

// Preprocess resizes img to the backbone's input size and lays out normalized
// RGB values as a batch of one. Alpha is discarded.
func (e *Extractor) Preprocess(img image.Image) model.Tensor {
	resized := resize.Resize(uint(e.size), uint(e.size), img, e.interpolation)

	// a non-premultiplied canvas keeps straight colour for translucent pixels
	// and turns paletted and grayscale inputs into three channels
	canvas := image.NewNRGBA(image.Rect(0, 0, e.size, e.size))
	draw.Draw(canvas, canvas.Bounds(), resized, resized.Bounds().Min, draw.Src)

	plane := e.size * e.size
	data := make([]float32, 3*plane)
	for y := 0; y < e.size; y++ {
		for x := 0; x < e.size; x++ {
			px := canvas.NRGBAAt(x, y)
			r, g, b := float32(px.R), float32(px.G), float32(px.B)
			for _, step := range e.normalization {
				r, g, b = step.Apply(r, g, b)
			}
			i := y*e.size + x
			if e.layout == LayoutNCHW {
				data[i] = r
				data[plane+i] = g
				data[2*plane+i] = b
			} else {
				data[3*i] = r
				data[3*i+1] = g
				data[3*i+2] = b
			}
		}
	}

	s := int64(e.size)
	if e.layout == LayoutNCHW {
		return model.FloatTensor("", data, 1, 3, s, s)
	}
	return model.FloatTensor("", data, 1, s, s, 3)
}

// Fit returns a vector of exactly n elements: vec truncated, or zero-filled
// at the end.
func Fit(vec []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, vec)
	return out
}
