package model

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

type ortRunner struct {
	name        string
	session     *ort.DynamicAdvancedSession
	meta        Metadata
	outputShape ort.Shape
}

func initializeORT(o Options) (*ort.SessionOptions, error) {
	if ort.IsInitialized() {
		return nil, errors.New("onnxruntime environment is already initialized")
	}
	if o.LibraryPath != "" {
		ort.SetSharedLibraryPath(o.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	if err := ort.DisableTelemetry(); err != nil {
		return nil, errors.Join(err, ort.DestroyEnvironment())
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create session options: %w", err), ort.DestroyEnvironment())
	}
	if o.IntraOpNumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(o.IntraOpNumThreads); err != nil {
			return nil, errors.Join(err, sessionOptions.Destroy(), ort.DestroyEnvironment())
		}
	}
	if o.InterOpNumThreads > 0 {
		if err := sessionOptions.SetInterOpNumThreads(o.InterOpNumThreads); err != nil {
			return nil, errors.Join(err, sessionOptions.Destroy(), ort.DestroyEnvironment())
		}
	}
	return sessionOptions, nil
}

func destroyORT(sessionOptions *ort.SessionOptions) error {
	var errs []error
	if sessionOptions != nil {
		errs = append(errs, sessionOptions.Destroy())
	}
	errs = append(errs, ort.DestroyEnvironment())
	return errors.Join(errs...)
}

func newORTRunner(name string, onnxBytes []byte, sessionOptions *ort.SessionOptions) (*ortRunner, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s inputs and outputs: %w", name, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%s has %d inputs and %d outputs", name, len(inputs), len(outputs))
	}

	meta := Metadata{Inputs: convertORTInfo(inputs), Outputs: convertORTInfo(outputs)}
	inputNames := make([]string, len(meta.Inputs))
	for i, in := range meta.Inputs {
		inputNames[i] = in.Name
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(onnxBytes,
		inputNames, []string{meta.Outputs[0].Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", name, err)
	}

	return &ortRunner{
		name:        name,
		session:     session,
		meta:        meta,
		outputShape: ort.NewShape(concreteShape(meta.Outputs[0].Dimensions)...),
	}, nil
}

func convertORTInfo(infos []ort.InputOutputInfo) []InputOutputInfo {
	out := make([]InputOutputInfo, len(infos))
	for i, info := range infos {
		typ := Unknown
		switch info.DataType {
		case ort.TensorElementDataTypeFloat:
			typ = Float32
		case ort.TensorElementDataTypeInt64:
			typ = Int64
		}
		out[i] = InputOutputInfo{
			Name:       info.Name,
			Dimensions: []int64(info.Dimensions),
			Type:       typ,
		}
	}
	return out
}

func (r *ortRunner) Metadata() Metadata {
	return r.meta
}

// Run creates fresh tensors for every call; the session is the only state
// shared between concurrent callers.
func (r *ortRunner) Run(inputs ...Tensor) (out []float32, err error) {
	bound, err := bind(r.meta, inputs)
	if err != nil {
		return nil, err
	}

	values := make([]ort.Value, 0, len(bound))
	defer func() {
		for _, v := range values {
			err = errors.Join(err, v.Destroy())
		}
	}()
	for _, t := range bound {
		var v ort.Value
		var tensorErr error
		if t.Ints != nil {
			v, tensorErr = ort.NewTensor(ort.NewShape(t.Shape...), t.Ints)
		} else {
			v, tensorErr = ort.NewTensor(ort.NewShape(t.Shape...), t.Floats)
		}
		if tensorErr != nil {
			return nil, fmt.Errorf("failed to create input tensor %s: %w", t.Name, tensorErr)
		}
		values = append(values, v)
	}

	output, err := ort.NewEmptyTensor[float32](r.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	values = append(values, output)

	if err := r.session.Run(values[:len(bound)], []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("%s inference failed: %w", r.name, err)
	}

	data := output.GetData()
	out = make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (r *ortRunner) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Destroy()
	r.session = nil
	return err
}
