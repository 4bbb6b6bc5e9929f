// Package vocab holds the word index the caption model was trained with.
//
// The artifact is the JSON written by the Keras Tokenizer's to_json method.
// Its word_index and index_word fields are themselves JSON documents encoded
// as strings.
package vocab

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultFilters are the characters Keras strips from text by default.
const DefaultFilters = "!\"#$%&()*+,-./:;<=>?@[\\]^_`{|}~\t\n"

type tokenizerJSON struct {
	ClassName string          `json:"class_name"`
	Config    tokenizerConfig `json:"config"`
}

type tokenizerConfig struct {
	NumWords  *int    `json:"num_words"`
	Filters   *string `json:"filters"`
	Lower     *bool   `json:"lower"`
	Split     *string `json:"split"`
	CharLevel bool    `json:"char_level"`
	OOVToken  *string `json:"oov_token"`
	WordIndex string  `json:"word_index"`
	IndexWord string  `json:"index_word"`
}

// Vocabulary maps words to indexes and back. It is never modified after Load.
type Vocabulary struct {
	wordIndex map[string]int64
	indexWord map[int64]string
	numWords  int
	filters   string
	lower     bool
	split     string
	charLevel bool
	oovIndex  int64
}

// Load parses a Keras tokenizer JSON document.
func Load(data []byte) (*Vocabulary, error) {
	var doc tokenizerJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer: %w", err)
	}
	if doc.ClassName != "" && doc.ClassName != "Tokenizer" {
		return nil, fmt.Errorf("unexpected tokenizer class %q", doc.ClassName)
	}
	cfg := doc.Config
	if cfg.WordIndex == "" {
		return nil, errors.New("tokenizer has no word_index")
	}

	v := &Vocabulary{
		filters:   DefaultFilters,
		lower:     true,
		split:     " ",
		charLevel: cfg.CharLevel,
	}
	if cfg.NumWords != nil {
		v.numWords = *cfg.NumWords
	}
	if cfg.Filters != nil {
		v.filters = *cfg.Filters
	}
	if cfg.Lower != nil {
		v.lower = *cfg.Lower
	}
	if cfg.Split != nil {
		v.split = *cfg.Split
	}

	if err := json.UnmarshalFromString(cfg.WordIndex, &v.wordIndex); err != nil {
		return nil, fmt.Errorf("failed to parse word_index: %w", err)
	}
	if len(v.wordIndex) == 0 {
		return nil, errors.New("tokenizer word_index is empty")
	}

	v.indexWord = make(map[int64]string, len(v.wordIndex))
	if cfg.IndexWord != "" {
		var raw map[string]string
		if err := json.UnmarshalFromString(cfg.IndexWord, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse index_word: %w", err)
		}
		for k, w := range raw {
			idx, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("index_word key %q is not an integer", k)
			}
			v.indexWord[idx] = w
		}
	} else {
		for w, idx := range v.wordIndex {
			v.indexWord[idx] = w
		}
	}

	if cfg.OOVToken != nil {
		idx, ok := v.wordIndex[*cfg.OOVToken]
		if !ok {
			return nil, fmt.Errorf("oov token %q missing from word_index", *cfg.OOVToken)
		}
		v.oovIndex = idx
	}
	return v, nil
}

// Size is the number of distinct words in the index.
func (v *Vocabulary) Size() int {
	return len(v.wordIndex)
}

// Index returns the index of an already normalized word.
func (v *Vocabulary) Index(word string) (int64, bool) {
	idx, ok := v.wordIndex[word]
	return idx, ok
}

// Word returns the word for index. Index 0 is reserved for padding and never maps.
func (v *Vocabulary) Word(index int64) (string, bool) {
	if index == 0 {
		return "", false
	}
	w, ok := v.indexWord[index]
	return w, ok
}

// TextToSequence converts text to word indexes. Words not in the index are
// dropped, or replaced by the OOV index when the tokenizer has one. With
// num_words set, indexes at or above it are treated the same way.
func (v *Vocabulary) TextToSequence(text string) []int64 {
	words := v.words(text)
	seq := make([]int64, 0, len(words))
	for _, w := range words {
		idx, ok := v.wordIndex[w]
		if ok && (v.numWords == 0 || idx < int64(v.numWords)) {
			seq = append(seq, idx)
			continue
		}
		if v.oovIndex != 0 {
			seq = append(seq, v.oovIndex)
		}
	}
	return seq
}

func (v *Vocabulary) words(text string) []string {
	if v.lower {
		text = strings.ToLower(text)
	}
	if v.charLevel {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	if v.filters != "" {
		text = strings.NewReplacer(filterPairs(v.filters, v.split)...).Replace(text)
	}
	parts := strings.Split(text, v.split)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func filterPairs(filters, split string) []string {
	pairs := make([]string, 0, 2*len(filters))
	for _, r := range filters {
		pairs = append(pairs, string(r), split)
	}
	return pairs
}

// Pad left-pads seq with zeros to maxLen, or keeps only its last maxLen entries.
func Pad(seq []int64, maxLen int) []int64 {
	out := make([]int64, maxLen)
	if len(seq) >= maxLen {
		copy(out, seq[len(seq)-maxLen:])
		return out
	}
	copy(out[maxLen-len(seq):], seq)
	return out
}

// LoadMaxLength parses the serialized maximum sequence length: either a bare
// JSON number or an object with a max_length field.
func LoadMaxLength(data []byte) (int, error) {
	trimmed := strings.TrimSpace(string(data))
	var n int
	if err := json.UnmarshalFromString(trimmed, &n); err != nil {
		var obj struct {
			MaxLength *int `json:"max_length"`
		}
		if objErr := json.UnmarshalFromString(trimmed, &obj); objErr != nil || obj.MaxLength == nil {
			return 0, fmt.Errorf("max length %q is not an integer", trimmed)
		}
		n = *obj.MaxLength
	}
	if n <= 0 {
		return 0, fmt.Errorf("max length must be positive, got %d", n)
	}
	return n, nil
}

// FromWords builds a vocabulary with default Keras settings where words[i]
// gets index i+1.
func FromWords(words ...string) *Vocabulary {
	v := &Vocabulary{
		wordIndex: make(map[string]int64, len(words)),
		indexWord: make(map[int64]string, len(words)),
		filters:   DefaultFilters,
		lower:     true,
		split:     " ",
	}
	for i, w := range words {
		v.wordIndex[w] = int64(i + 1)
		v.indexWord[int64(i+1)] = w
	}
	return v
}
