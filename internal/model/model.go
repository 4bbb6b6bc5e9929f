// Package model loads ONNX networks and runs single-example forward passes.
package model

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	BackendORT = "ORT"
	BackendGo  = "GO"
)

// Options selects and tunes the inference backend.
type Options struct {
	Backend           string
	LibraryPath       string
	IntraOpNumThreads int
	InterOpNumThreads int
}

// Environment owns the process-wide inference runtime. Create one per process
// and Close it after every Runner it loaded.
type Environment struct {
	backend        string
	sessionOptions *ort.SessionOptions
}

// NewEnvironment initializes the selected backend.
func NewEnvironment(o Options) (*Environment, error) {
	backend := strings.ToUpper(o.Backend)
	if backend == "" {
		backend = BackendORT
	}
	switch backend {
	case BackendORT:
		sessionOptions, err := initializeORT(o)
		if err != nil {
			return nil, err
		}
		return &Environment{backend: backend, sessionOptions: sessionOptions}, nil
	case BackendGo:
		return &Environment{backend: backend}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", o.Backend)
	}
}

// Backend returns the backend name, ORT or GO.
func (e *Environment) Backend() string {
	return e.backend
}

// Load creates a Runner for the ONNX model in onnxBytes.
func (e *Environment) Load(name string, onnxBytes []byte) (Runner, error) {
	switch e.backend {
	case BackendORT:
		return newORTRunner(name, onnxBytes, e.sessionOptions)
	default:
		return newGoRunner(name, onnxBytes)
	}
}

// Close tears down the runtime.
func (e *Environment) Close() error {
	if e.backend != BackendORT {
		return nil
	}
	err := destroyORT(e.sessionOptions)
	e.sessionOptions = nil
	return err
}
