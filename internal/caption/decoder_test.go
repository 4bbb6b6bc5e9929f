package caption

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/caption-api/internal/model"
	"github.com/Brownie44l1/caption-api/internal/vocab"
)

// words: startseq=1 endseq=2 a=3 dog=4 runs=5 in=6 grass=7
var testVocab = vocab.FromWords("startseq", "endseq", "a", "dog", "runs", "in", "grass")

// scripted predicts script[step], where step is the number of words after
// the start token in the incoming sequence. Past the end of the script it
// keeps predicting the last entry.
type scripted struct {
	script    []int64
	calls     int
	sequences [][]int64
	err       error
}

func (s *scripted) Predict(_ []float32, seq []int64) ([]float32, error) {
	s.calls++
	s.sequences = append(s.sequences, append([]int64(nil), seq...))
	if s.err != nil {
		return nil, s.err
	}
	step := -1
	for _, idx := range seq {
		if idx != 0 {
			step++
		}
	}
	if step >= len(s.script) {
		step = len(s.script) - 1
	}
	scores := make([]float32, testVocab.Size()+1)
	if idx := s.script[step]; idx < int64(len(scores)) {
		scores[idx] = 1
	} else {
		// pick an index past the vocabulary by returning a longer distribution
		scores = make([]float32, idx+1)
		scores[idx] = 1
	}
	return scores, nil
}

func newTestDecoder(t *testing.T, p Predictor, maxLength int) *Decoder {
	t.Helper()
	d, err := NewDecoder(p, testVocab, maxLength, "startseq", "endseq")
	require.NoError(t, err)
	return d
}

func TestGenerateEndFirst(t *testing.T) {
	p := &scripted{script: []int64{2}}
	text, err := newTestDecoder(t, p, 10).Generate(make([]float32, 1920))
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, 1, p.calls)
}

func TestGenerateThreeWords(t *testing.T) {
	p := &scripted{script: []int64{3, 4, 5, 2}}
	text, err := newTestDecoder(t, p, 10).Generate(make([]float32, 1920))
	require.NoError(t, err)
	assert.Equal(t, "a dog runs", text)
	assert.Equal(t, 4, p.calls)

	// sequences are pre-padded to max length and grow by one word per step
	require.Len(t, p.sequences, 4)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, p.sequences[0])
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 1, 3, 4, 5}, p.sequences[3])
}

func TestGenerateStopsAtMaxLength(t *testing.T) {
	p := &scripted{script: []int64{4}}
	text, err := newTestDecoder(t, p, 5).Generate(nil)
	require.NoError(t, err)
	assert.Equal(t, "dog dog dog dog dog", text)
	assert.Equal(t, 5, p.calls, "never more than max length steps")
	assert.Equal(t, []int64{1, 4, 4, 4, 4}, p.sequences[4])
}

func TestGenerateStopsOnUnknownIndex(t *testing.T) {
	for name, idx := range map[string]int64{"padding index": 0, "out of vocabulary": 42} {
		t.Run(name, func(t *testing.T) {
			p := &scripted{script: []int64{3, idx, 4}}
			text, err := newTestDecoder(t, p, 10).Generate(nil)
			require.NoError(t, err)
			assert.Equal(t, "a", text)
			assert.Equal(t, 2, p.calls)
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	d := newTestDecoder(t, &scripted{script: []int64{3, 4, 6, 7, 2}}, 10)
	features := []float32{0.3, 0.1}

	first, err := d.Generate(features)
	require.NoError(t, err)
	for range 5 {
		again, err := d.Generate(features)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a dog in grass", first)
}

func TestGenerateNeverReturnsSentinels(t *testing.T) {
	p := &scripted{script: []int64{3, 1, 4, 1}}
	text, err := newTestDecoder(t, p, 4).Generate(nil)
	require.NoError(t, err)
	assert.NotContains(t, text, "startseq")
	assert.NotContains(t, text, "endseq")
	assert.Equal(t, "a dog", text)
}

func TestGeneratePropagatesErrors(t *testing.T) {
	cause := errors.New("inference failed")
	_, err := newTestDecoder(t, &scripted{err: cause}, 10).Generate(nil)
	assert.ErrorIs(t, err, cause)

	_, err = newTestDecoder(t, emptyPredictor{}, 10).Generate(nil)
	assert.ErrorContains(t, err, "empty distribution")
}

type emptyPredictor struct{}

func (emptyPredictor) Predict([]float32, []int64) ([]float32, error) { return nil, nil }

func TestTokensStopEarly(t *testing.T) {
	p := &scripted{script: []int64{3, 4, 5, 2}}
	d := newTestDecoder(t, p, 10)

	var got []string
	for word, err := range d.Tokens(nil) {
		require.NoError(t, err)
		got = append(got, word)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "dog"}, got)
	assert.Equal(t, 2, p.calls)
}

func TestNewDecoderValidation(t *testing.T) {
	_, err := NewDecoder(&scripted{}, testVocab, 0, "startseq", "endseq")
	assert.Error(t, err)
	_, err = NewDecoder(&scripted{}, testVocab, 10, "<start>", "endseq")
	assert.Error(t, err)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 1, Argmax([]float32{0.1, 0.45, 0.45}), "first maximum wins")
	assert.Equal(t, 0, Argmax([]float32{-3, -4}))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "a dog runs", Clean("startseq a dog runs endseq", "startseq", "endseq"))
	assert.Equal(t, "a dog", Clean("  startseq a   startseq dog ", "startseq", "endseq"))
	// removing one occurrence can expose another
	assert.Equal(t, "", Clean("ststartseqartseq", "startseq", "endseq"))
	assert.Equal(t, "", Clean("startseq", "startseq", "endseq"))
}

type recordingRunner struct {
	inputs []model.Tensor
}

func (r *recordingRunner) Run(inputs ...model.Tensor) ([]float32, error) {
	r.inputs = inputs
	return []float32{0, 1}, nil
}
func (r *recordingRunner) Metadata() model.Metadata { return model.Metadata{} }
func (r *recordingRunner) Close() error             { return nil }

func TestModelPredictor(t *testing.T) {
	runner := &recordingRunner{}
	p := &ModelPredictor{Runner: runner, FeatureInput: "input_1", SequenceInput: "input_2", SequenceType: model.Float32}

	out, err := p.Predict([]float32{0.5, 0.25, 0}, []int64{0, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, out)

	require.Len(t, runner.inputs, 2)
	assert.Equal(t, "input_1", runner.inputs[0].Name)
	assert.Equal(t, []int64{1, 3}, runner.inputs[0].Shape)
	assert.Equal(t, "input_2", runner.inputs[1].Name)
	assert.Equal(t, []float32{0, 1, 3}, runner.inputs[1].Floats)

	p.SequenceType = model.Int64
	_, err = p.Predict([]float32{0.5}, []int64{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, runner.inputs[1].Ints)
}
