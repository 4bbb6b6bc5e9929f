package model

import (
	"sync/atomic"
	"time"
)

// Stats summarizes the calls made through a TimedRunner.
type Stats struct {
	Name        string        `json:"name"`
	NumCalls    uint64        `json:"num_calls"`
	Total       time.Duration `json:"total_ns"`
	AverageCall time.Duration `json:"average_ns"`
}

// TimedRunner records call counts and time spent in the wrapped Runner.
type TimedRunner struct {
	Runner
	name     string
	numCalls atomic.Uint64
	totalNS  atomic.Uint64
}

func Timed(name string, r Runner) *TimedRunner {
	return &TimedRunner{Runner: r, name: name}
}

func (t *TimedRunner) Run(inputs ...Tensor) ([]float32, error) {
	start := time.Now()
	out, err := t.Runner.Run(inputs...)
	t.numCalls.Add(1)
	t.totalNS.Add(uint64(time.Since(start)))
	return out, err
}

func (t *TimedRunner) Stats() Stats {
	calls := t.numCalls.Load()
	total := time.Duration(t.totalNS.Load())
	s := Stats{Name: t.name, NumCalls: calls, Total: total}
	if calls > 0 {
		s.AverageCall = total / time.Duration(calls)
	}
	return s
}
