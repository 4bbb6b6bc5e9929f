package vocab

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Vocabulary {
	t.Helper()
	data, err := os.ReadFile("testdata/tokenizer.json")
	require.NoError(t, err)
	v, err := Load(data)
	require.NoError(t, err)
	return v
}

func TestLoadKerasTokenizer(t *testing.T) {
	v := loadFixture(t)
	assert.Equal(t, 11, v.Size())

	idx, ok := v.Index("startseq")
	assert.True(t, ok)
	assert.Equal(t, int64(1), idx)

	w, ok := v.Word(4)
	assert.True(t, ok)
	assert.Equal(t, "dog", w)

	_, ok = v.Word(0)
	assert.False(t, ok, "index 0 is padding")
	_, ok = v.Word(99)
	assert.False(t, ok)
}

func TestTextToSequence(t *testing.T) {
	v := loadFixture(t)

	assert.Equal(t, []int64{1, 3, 4, 7}, v.TextToSequence("startseq a dog runs"))
	// case folding, filters and repeated separators
	assert.Equal(t, []int64{1, 3, 4, 7}, v.TextToSequence("StartSeq  A, dog... RUNS!"))
	// unknown words are dropped without an oov token
	assert.Equal(t, []int64{3, 4}, v.TextToSequence("a purple dog"))
	assert.Empty(t, v.TextToSequence(""))
}

func TestTextToSequenceOOVAndNumWords(t *testing.T) {
	data := []byte(`{"class_name": "Tokenizer", "config": {"num_words": 5, "oov_token": "<unk>",
		"word_index": "{\"<unk>\": 1, \"startseq\": 2, \"a\": 3, \"dog\": 4, \"cat\": 5}"}}`)
	v, err := Load(data)
	require.NoError(t, err)

	// index_word is derived when missing
	w, ok := v.Word(4)
	require.True(t, ok)
	assert.Equal(t, "dog", w)

	// cat has index 5 which is not below num_words
	assert.Equal(t, []int64{2, 3, 1, 1}, v.TextToSequence("startseq a cat zebra"))
}

func TestTextToSequenceCharLevel(t *testing.T) {
	data := []byte(`{"config": {"char_level": true, "word_index": "{\"a\": 1, \"b\": 2}"}}`)
	v, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 1}, v.TextToSequence("AbXa"))
}

func TestLoadErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":        `pickle`,
		"wrong class":     `{"class_name": "Vectorizer", "config": {"word_index": "{\"a\": 1}"}}`,
		"no word index":   `{"class_name": "Tokenizer", "config": {}}`,
		"empty index":     `{"config": {"word_index": "{}"}}`,
		"bad index word":  `{"config": {"word_index": "{\"a\": 1}", "index_word": "{\"one\": \"a\"}"}}`,
		"missing oov":     `{"config": {"oov_token": "<oov>", "word_index": "{\"a\": 1}"}}`,
		"nested not json": `{"config": {"word_index": "a=1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestPad(t *testing.T) {
	assert.Equal(t, []int64{0, 0, 1, 3}, Pad([]int64{1, 3}, 4))
	assert.Equal(t, []int64{3, 4, 7}, Pad([]int64{1, 3, 4, 7}, 3), "keeps the most recent tokens")
	assert.Equal(t, []int64{1, 3}, Pad([]int64{1, 3}, 2))
	assert.Equal(t, []int64{0, 0}, Pad(nil, 2))
}

func TestLoadMaxLength(t *testing.T) {
	n, err := LoadMaxLength([]byte("34\n"))
	require.NoError(t, err)
	assert.Equal(t, 34, n)

	n, err = LoadMaxLength([]byte(`{"max_length": 38}`))
	require.NoError(t, err)
	assert.Equal(t, 38, n)

	for _, bad := range []string{"", "thirty", "0", "-3", `{"maxlen": 3}`, "3.5"} {
		_, err := LoadMaxLength([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestFromWords(t *testing.T) {
	v := FromWords("startseq", "endseq", "dog")
	assert.Equal(t, 3, v.Size())
	assert.Equal(t, []int64{1, 3}, v.TextToSequence("startseq Dog"))
	w, ok := v.Word(2)
	assert.True(t, ok)
	assert.Equal(t, "endseq", w)
}
