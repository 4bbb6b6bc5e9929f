package model

import (
	"fmt"
)

// ElementType is the element type of an input or output tensor.
type ElementType string

const (
	Float32 ElementType = "float32"
	Int64   ElementType = "int64"
	Unknown ElementType = ""
)

// Tensor is a named input for a single inference call. Exactly one of Floats
// or Ints is set. An empty Name binds the tensor by position.
type Tensor struct {
	Name   string
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// FloatTensor builds a float32 tensor.
func FloatTensor(name string, data []float32, shape ...int64) Tensor {
	return Tensor{Name: name, Shape: shape, Floats: data}
}

// IntTensor builds an int64 tensor.
func IntTensor(name string, data []int64, shape ...int64) Tensor {
	return Tensor{Name: name, Shape: shape, Ints: data}
}

func (t Tensor) Type() ElementType {
	if t.Ints != nil {
		return Int64
	}
	return Float32
}

func (t Tensor) Len() int {
	if t.Ints != nil {
		return len(t.Ints)
	}
	return len(t.Floats)
}

// As converts t to the given element type. Float to int conversion truncates.
func (t Tensor) As(typ ElementType) (Tensor, error) {
	if typ == Unknown || typ == t.Type() {
		return t, nil
	}
	out := Tensor{Name: t.Name, Shape: t.Shape}
	switch typ {
	case Float32:
		out.Floats = make([]float32, len(t.Ints))
		for i, v := range t.Ints {
			out.Floats[i] = float32(v)
		}
	case Int64:
		out.Ints = make([]int64, len(t.Floats))
		for i, v := range t.Floats {
			out.Ints[i] = int64(v)
		}
	default:
		return Tensor{}, fmt.Errorf("tensor %s: unsupported element type %s", t.Name, typ)
	}
	return out, nil
}

func (t Tensor) validate() error {
	size := int64(1)
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor %s: invalid shape %v", t.Name, t.Shape)
		}
		size *= d
	}
	if int64(t.Len()) != size {
		return fmt.Errorf("tensor %s: shape %v needs %d values, got %d", t.Name, t.Shape, size, t.Len())
	}
	return nil
}

// InputOutputInfo describes one model input or output.
type InputOutputInfo struct {
	Name       string
	Dimensions []int64
	Type       ElementType
}

// Metadata lists a loaded model's inputs and outputs in declaration order.
type Metadata struct {
	Inputs  []InputOutputInfo
	Outputs []InputOutputInfo
}

func (m Metadata) input(name string) (InputOutputInfo, bool) {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputOutputInfo{}, false
}

// Runner runs one forward pass and returns the first output flattened.
// Implementations are safe for concurrent use.
type Runner interface {
	Run(inputs ...Tensor) ([]float32, error)
	Metadata() Metadata
	Close() error
}

// bind orders inputs to match the model's declared inputs.
func bind(meta Metadata, inputs []Tensor) ([]Tensor, error) {
	if len(inputs) != len(meta.Inputs) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(meta.Inputs), len(inputs))
	}
	byName := make(map[string]Tensor, len(inputs))
	for _, in := range inputs {
		if in.Name != "" {
			byName[in.Name] = in
		}
	}
	bound := make([]Tensor, len(meta.Inputs))
	for i, info := range meta.Inputs {
		t, ok := byName[info.Name]
		if !ok {
			if inputs[i].Name != "" {
				return nil, fmt.Errorf("no tensor provided for input %s", info.Name)
			}
			t = inputs[i]
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		converted, err := t.As(info.Type)
		if err != nil {
			return nil, err
		}
		converted.Name = info.Name
		bound[i] = converted
	}
	return bound, nil
}

// concreteShape replaces dynamic dimensions with 1, the batch size used for
// every call.
func concreteShape(dims []int64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}
