package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/caption-api/internal/apperr"
)

const (
	RuntimeORT = "ORT"
	RuntimeGo  = "GO"

	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"

	// DefaultFeatureSize is the length every extracted feature vector is forced to.
	DefaultFeatureSize = 1920
)

// Config is the main configuration structure.
type Config struct {
	Server struct {
		IP             string   `yaml:"ip"`
		Port           int      `yaml:"port"`
		MaxUploadBytes int64    `yaml:"max_upload_bytes"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Mode           string   `yaml:"mode"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`

	Models struct {
		// Backbone is the frozen image network, exported to ONNX with pooled output.
		Backbone string `yaml:"backbone"`
		// Caption is the sequence model predicting the next word.
		Caption   string `yaml:"caption"`
		Tokenizer string `yaml:"tokenizer"`
		MaxLength string `yaml:"max_length"`
	} `yaml:"models"`

	Runtime struct {
		Backend           string `yaml:"backend"`
		LibraryPath       string `yaml:"library_path"`
		IntraOpNumThreads int    `yaml:"intra_op_threads"`
		InterOpNumThreads int    `yaml:"inter_op_threads"`
	} `yaml:"runtime"`

	Image struct {
		Size          int        `yaml:"size"`
		Layout        string     `yaml:"layout"`
		Interpolation string     `yaml:"interpolation"`
		Mean          [3]float32 `yaml:"mean"`
		Std           [3]float32 `yaml:"std"`
		FeatureSize   int        `yaml:"feature_size"`
	} `yaml:"image"`

	Decoder struct {
		StartToken    string `yaml:"start_token"`
		EndToken      string `yaml:"end_token"`
		FeatureInput  string `yaml:"feature_input"`
		SequenceInput string `yaml:"sequence_input"`
		SequenceType  string `yaml:"sequence_type"`
	} `yaml:"decoder"`
}

var interpolations = map[string]bool{
	"nearest":  true,
	"bilinear": true,
	"bicubic":  true,
	"lanczos3": true,
}

// Default returns a configuration with every default applied and no model paths set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path, applies environment overrides and defaults,
// and validates the result. A .env file in the working directory is loaded first
// when present. Every failure is a StartupError.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Startup("config", fmt.Errorf("failed to load .env: %w", err))
	}

	if path == "" {
		path = os.Getenv("CAPTION_CONFIG")
	}
	if path == "" {
		path = ".config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = "config.yaml"
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Startup("config", fmt.Errorf("failed to read config %s: %w", path, err))
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, then applies overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, apperr.Startup("config", fmt.Errorf("failed to parse config: %w", err))
	}
	if err := c.applyEnv(); err != nil {
		return nil, apperr.Startup("config", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, apperr.Startup("config", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if lib := os.Getenv("ORT_LIBRARY_PATH"); lib != "" {
		c.Runtime.LibraryPath = lib
	}
	if backend := os.Getenv("CAPTION_RUNTIME"); backend != "" {
		c.Runtime.Backend = backend
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	c.Runtime.Backend = strings.ToUpper(c.Runtime.Backend)
	if c.Runtime.Backend == "" {
		c.Runtime.Backend = RuntimeORT
	}
	if c.Image.Size == 0 {
		c.Image.Size = 224
	}
	c.Image.Layout = strings.ToUpper(c.Image.Layout)
	if c.Image.Layout == "" {
		c.Image.Layout = LayoutNHWC
	}
	c.Image.Interpolation = strings.ToLower(c.Image.Interpolation)
	if c.Image.Interpolation == "" {
		c.Image.Interpolation = "bicubic"
	}
	if c.Image.Mean == [3]float32{} {
		c.Image.Mean = [3]float32{0.485, 0.456, 0.406}
	}
	if c.Image.Std == [3]float32{} {
		c.Image.Std = [3]float32{0.229, 0.224, 0.225}
	}
	if c.Image.FeatureSize == 0 {
		c.Image.FeatureSize = DefaultFeatureSize
	}
	if c.Decoder.StartToken == "" {
		c.Decoder.StartToken = "startseq"
	}
	if c.Decoder.EndToken == "" {
		c.Decoder.EndToken = "endseq"
	}
	c.Decoder.SequenceType = strings.ToLower(c.Decoder.SequenceType)
	if c.Decoder.SequenceType == "" {
		c.Decoder.SequenceType = "float32"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must not be negative"))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode %q not supported, use debug, release or test", c.Server.Mode))
	}
	switch c.Runtime.Backend {
	case RuntimeORT, RuntimeGo:
	default:
		errs = append(errs, fmt.Errorf("runtime.backend %q not supported, use ORT or GO", c.Runtime.Backend))
	}
	switch c.Image.Layout {
	case LayoutNHWC, LayoutNCHW:
	default:
		errs = append(errs, fmt.Errorf("image.layout %q not supported, use NHWC or NCHW", c.Image.Layout))
	}
	if !interpolations[c.Image.Interpolation] {
		errs = append(errs, fmt.Errorf("image.interpolation %q not supported", c.Image.Interpolation))
	}
	if c.Image.Size <= 0 {
		errs = append(errs, fmt.Errorf("image.size must be positive"))
	}
	if c.Image.FeatureSize <= 0 {
		errs = append(errs, fmt.Errorf("image.feature_size must be positive"))
	}
	for i, s := range c.Image.Std {
		if s == 0 {
			errs = append(errs, fmt.Errorf("image.std[%d] must not be zero", i))
		}
	}
	switch c.Decoder.SequenceType {
	case "float32", "int64":
	default:
		errs = append(errs, fmt.Errorf("decoder.sequence_type %q not supported, use float32 or int64", c.Decoder.SequenceType))
	}
	if c.Decoder.StartToken == c.Decoder.EndToken {
		errs = append(errs, fmt.Errorf("decoder start and end tokens must differ"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.IP, c.Server.Port)
}
