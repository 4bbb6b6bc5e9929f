package model

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// goRunner executes models with the pure Go gonnx interpreter. It is slower
// than onnxruntime but needs no shared library.
type goRunner struct {
	name  string
	model *gonnx.Model
	meta  Metadata
}

func newGoRunner(name string, onnxBytes []byte) (*goRunner, error) {
	m, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	var meta Metadata
	inputShapes := m.InputShapes()
	for _, input := range m.InputNames() {
		shape := inputShapes[input]
		dims := make([]int64, len(shape))
		for i, d := range shape {
			dims[i] = d.Size
		}
		meta.Inputs = append(meta.Inputs, InputOutputInfo{Name: input, Dimensions: dims})
	}
	outputShapes := m.OutputShapes()
	for _, output := range m.OutputNames() {
		shape := outputShapes[output]
		dims := make([]int64, len(shape))
		for i, d := range shape {
			dims[i] = d.Size
		}
		meta.Outputs = append(meta.Outputs, InputOutputInfo{Name: output, Dimensions: dims})
	}
	if len(meta.Inputs) == 0 || len(meta.Outputs) == 0 {
		return nil, fmt.Errorf("%s has %d inputs and %d outputs", name, len(meta.Inputs), len(meta.Outputs))
	}
	return &goRunner{name: name, model: m, meta: meta}, nil
}

func (r *goRunner) Metadata() Metadata {
	return r.meta
}

func (r *goRunner) Run(inputs ...Tensor) ([]float32, error) {
	bound, err := bind(r.meta, inputs)
	if err != nil {
		return nil, err
	}

	feed := gonnx.Tensors{}
	for _, t := range bound {
		shape := make([]int, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = int(d)
		}
		var backing any = t.Floats
		if t.Ints != nil {
			backing = t.Ints
		}
		feed[t.Name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}

	outputs, err := r.model.Run(feed)
	if err != nil {
		return nil, fmt.Errorf("%s inference failed: %w", r.name, err)
	}
	result, ok := outputs[r.meta.Outputs[0].Name]
	if !ok {
		return nil, fmt.Errorf("%s produced no output %s", r.name, r.meta.Outputs[0].Name)
	}
	data, ok := result.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%s output type %T is not supported", r.name, result.Data())
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (r *goRunner) Close() error {
	return nil
}
