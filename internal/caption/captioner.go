package caption

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/caption-api/internal/apperr"
	"github.com/Brownie44l1/caption-api/internal/artifacts"
	"github.com/Brownie44l1/caption-api/internal/config"
	"github.com/Brownie44l1/caption-api/internal/features"
	"github.com/Brownie44l1/caption-api/internal/model"
	"github.com/Brownie44l1/caption-api/internal/vocab"
)

// Extractor turns image bytes into a feature vector of FeatureSize elements.
type Extractor interface {
	Extract(image []byte) ([]float32, error)
	FeatureSize() int
}

// Info describes the loaded models.
type Info struct {
	Runtime     string `json:"runtime"`
	MaxLength   int    `json:"max_length"`
	VocabSize   int    `json:"vocab_size"`
	FeatureSize int    `json:"feature_size"`
}

// Captioner is the read-only state shared by all requests: the extractor,
// the decoder and the resources behind them. Build it once at startup.
type Captioner struct {
	extractor Extractor
	decoder   *Decoder
	info      Info
	timed     []*model.TimedRunner
	closers   []func() error
}

// Option customizes a Captioner built with New.
type Option func(*Captioner)

// WithRunners registers runners whose timings are reported by Stats.
func WithRunners(runners ...*model.TimedRunner) Option {
	return func(c *Captioner) {
		c.timed = append(c.timed, runners...)
	}
}

// WithCloser registers cleanup run by Close in reverse order.
func WithCloser(fn func() error) Option {
	return func(c *Captioner) {
		c.closers = append(c.closers, fn)
	}
}

// WithRuntime sets the runtime name reported by Info.
func WithRuntime(name string) Option {
	return func(c *Captioner) {
		c.info.Runtime = name
	}
}

func New(extractor Extractor, decoder *Decoder, vocabSize int, opts ...Option) *Captioner {
	c := &Captioner{
		extractor: extractor,
		decoder:   decoder,
		info: Info{
			MaxLength:   decoder.MaxLength(),
			VocabSize:   vocabSize,
			FeatureSize: extractor.FeatureSize(),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Caption generates a caption for an encoded image. Empty input is rejected
// before any inference runs.
func (c *Captioner) Caption(image []byte) (string, error) {
	vec, err := c.extract(image)
	if err != nil {
		return "", err
	}
	return c.CaptionFeatures(vec)
}

func (c *Captioner) extract(image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, apperr.Input(apperr.MsgEmptyFile)
	}
	vec, err := c.extractor.Extract(image)
	if err != nil {
		var pe *apperr.ProcessingError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, apperr.Processing(apperr.MsgProcessImage, err)
	}
	return vec, nil
}

// CaptionFeatures decodes a caption from a precomputed feature vector.
func (c *Captioner) CaptionFeatures(vec []float32) (string, error) {
	if len(vec) != c.info.FeatureSize {
		return "", apperr.Input("Expected %d feature values, got %d", c.info.FeatureSize, len(vec))
	}
	return c.generate(vec, nil)
}

func (c *Captioner) generate(vec []float32, onWord func(string)) (string, error) {
	text, err := c.decoder.GenerateWords(vec, onWord)
	if err != nil {
		return "", apperr.Processing(apperr.MsgInternalError, fmt.Errorf("decode: %w", err))
	}
	return text, nil
}

// CaptionWords is Caption with onWord called for every decoded word as it
// is produced.
func (c *Captioner) CaptionWords(image []byte, onWord func(word string)) (string, error) {
	vec, err := c.extract(image)
	if err != nil {
		return "", err
	}
	return c.generate(vec, onWord)
}

func (c *Captioner) Info() Info {
	return c.info
}

// Stats reports per-model call counts and latency.
func (c *Captioner) Stats() []model.Stats {
	stats := make([]model.Stats, len(c.timed))
	for i, r := range c.timed {
		stats[i] = r.Stats()
	}
	return stats
}

// Close releases models and the runtime.
func (c *Captioner) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build loads every startup artifact named in cfg. Any failure is a
// StartupError and leaves nothing open.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (c *Captioner, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				err = errors.Join(err, closers[i]())
			}
		}
	}()

	tokenizerBytes, err := artifacts.ReadBytes(ctx, "tokenizer", cfg.Models.Tokenizer)
	if err != nil {
		return nil, err
	}
	v, err := vocab.Load(tokenizerBytes)
	if err != nil {
		return nil, apperr.Startup("tokenizer", err)
	}
	log.Infow("Tokenizer loaded", "words", v.Size())

	maxLengthBytes, err := artifacts.ReadBytes(ctx, "max length", cfg.Models.MaxLength)
	if err != nil {
		return nil, err
	}
	maxLength, err := vocab.LoadMaxLength(maxLengthBytes)
	if err != nil {
		return nil, apperr.Startup("max length", err)
	}
	log.Infow("Max length loaded", "max_length", maxLength)

	env, err := model.NewEnvironment(model.Options{
		Backend:           cfg.Runtime.Backend,
		LibraryPath:       cfg.Runtime.LibraryPath,
		IntraOpNumThreads: cfg.Runtime.IntraOpNumThreads,
		InterOpNumThreads: cfg.Runtime.InterOpNumThreads,
	})
	if err != nil {
		return nil, apperr.Startup("inference runtime", err)
	}
	closers = append(closers, env.Close)

	backbone, err := loadRunner(ctx, env, "backbone", cfg.Models.Backbone, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, backbone.Close)

	captionModel, err := loadRunner(ctx, env, "caption model", cfg.Models.Caption, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, captionModel.Close)

	extractor, err := features.New(backbone, features.Options{
		Size:          cfg.Image.Size,
		Layout:        cfg.Image.Layout,
		Interpolation: cfg.Image.Interpolation,
		Normalization: []features.NormalizationStep{
			features.RescaleStep(),
			features.PixelNormalizationStep(cfg.Image.Mean, cfg.Image.Std),
		},
		FeatureSize: cfg.Image.FeatureSize,
	})
	if err != nil {
		return nil, apperr.Startup("feature extractor", err)
	}

	decoder, err := NewDecoder(&ModelPredictor{
		Runner:        captionModel,
		FeatureInput:  cfg.Decoder.FeatureInput,
		SequenceInput: cfg.Decoder.SequenceInput,
		SequenceType:  model.ElementType(cfg.Decoder.SequenceType),
	}, v, maxLength, cfg.Decoder.StartToken, cfg.Decoder.EndToken)
	if err != nil {
		return nil, apperr.Startup("caption decoder", err)
	}

	opts := []Option{WithRuntime(env.Backend()), WithRunners(backbone, captionModel)}
	for _, fn := range closers {
		opts = append(opts, WithCloser(fn))
	}
	return New(extractor, decoder, v.Size(), opts...), nil
}

func loadRunner(ctx context.Context, env *model.Environment, name, url string, log *zap.SugaredLogger) (*model.TimedRunner, error) {
	log.Infow("Loading model", "model", name, "location", url)
	onnxBytes, err := artifacts.ReadBytes(ctx, name, url)
	if err != nil {
		return nil, err
	}
	runner, err := env.Load(name, onnxBytes)
	if err != nil {
		return nil, apperr.Startup(name, err)
	}
	meta := runner.Metadata()
	if len(meta.Outputs) == 0 {
		return nil, apperr.Startup(name, errors.Join(errors.New("model declares no outputs"), runner.Close()))
	}
	log.Infow("Model loaded", "model", name, "inputs", len(meta.Inputs), "output", meta.Outputs[0].Name,
		"output_dims", meta.Outputs[0].Dimensions)
	return model.Timed(name, runner), nil
}
