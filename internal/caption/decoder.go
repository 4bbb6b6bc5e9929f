// Package caption generates captions from image feature vectors with a greedy
// next-word loop over a pretrained sequence model.
package caption

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/Brownie44l1/caption-api/internal/model"
	"github.com/Brownie44l1/caption-api/internal/vocab"
)

// Predictor returns a score for every vocabulary index given the image
// features and a padded index sequence.
type Predictor interface {
	Predict(features []float32, sequence []int64) ([]float32, error)
}

// ModelPredictor feeds a two-input sequence model through a model.Runner.
// Empty input names bind features first and the sequence second.
type ModelPredictor struct {
	Runner        model.Runner
	FeatureInput  string
	SequenceInput string
	SequenceType  model.ElementType
}

func (p *ModelPredictor) Predict(features []float32, sequence []int64) ([]float32, error) {
	f := model.FloatTensor(p.FeatureInput, features, 1, int64(len(features)))
	s := model.IntTensor(p.SequenceInput, sequence, 1, int64(len(sequence)))
	if p.SequenceType == model.Float32 {
		var err error
		if s, err = s.As(model.Float32); err != nil {
			return nil, err
		}
	}
	return p.Runner.Run(f, s)
}

// Decoder runs greedy decoding. It keeps no state between calls.
type Decoder struct {
	predictor  Predictor
	vocab      *vocab.Vocabulary
	maxLength  int
	startToken string
	endToken   string
}

func NewDecoder(p Predictor, v *vocab.Vocabulary, maxLength int, startToken, endToken string) (*Decoder, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}
	if _, ok := v.Index(startToken); !ok {
		return nil, fmt.Errorf("start token %q is not in the vocabulary", startToken)
	}
	return &Decoder{
		predictor:  p,
		vocab:      v,
		maxLength:  maxLength,
		startToken: startToken,
		endToken:   endToken,
	}, nil
}

// MaxLength bounds both the padded sequence and the number of decode steps.
func (d *Decoder) MaxLength() int {
	return d.maxLength
}

// Tokens yields each predicted word in order. The sequence ends when the
// model picks the end token or an index with no word, after MaxLength words,
// or after the first error.
func (d *Decoder) Tokens(features []float32) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text := d.startToken
		for range d.maxLength {
			seq := vocab.Pad(d.vocab.TextToSequence(text), d.maxLength)
			scores, err := d.predictor.Predict(features, seq)
			if err != nil {
				yield("", err)
				return
			}
			if len(scores) == 0 {
				yield("", errors.New("model returned an empty distribution"))
				return
			}
			word, ok := d.vocab.Word(int64(Argmax(scores)))
			if !ok || word == d.endToken {
				return
			}
			text += " " + word
			if !yield(word, nil) {
				return
			}
		}
	}
}

// Generate decodes a full caption with the sentinels removed.
func (d *Decoder) Generate(features []float32) (string, error) {
	return d.GenerateWords(features, nil)
}

// GenerateWords is Generate calling onWord, when non-nil, for each decoded word.
func (d *Decoder) GenerateWords(features []float32, onWord func(word string)) (string, error) {
	words := []string{d.startToken}
	for word, err := range d.Tokens(features) {
		if err != nil {
			return "", err
		}
		if onWord != nil {
			onWord(word)
		}
		words = append(words, word)
	}
	return Clean(strings.Join(words, " "), d.startToken, d.endToken), nil
}

// Argmax returns the index of the largest score; ties go to the lowest index.
func Argmax(scores []float32) int {
	best := 0
	for i, v := range scores {
		if v > scores[best] {
			best = i
		}
	}
	return best
}

// Clean strips every occurrence of the sentinel substrings and normalizes
// whitespace.
func Clean(text string, sentinels ...string) string {
	for {
		before := text
		for _, s := range sentinels {
			if s != "" {
				text = strings.ReplaceAll(text, s, "")
			}
		}
		if text == before {
			break
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
