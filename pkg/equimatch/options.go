package equimatch

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	modelPath string
	vocabPath string
	cacheDir  string

	storePath string

	serviceEndpoint    string
	serviceAPIKey      string
	serviceTimeout     time.Duration
	serviceMinInterval time.Duration
	serviceMaxAttempts int

	groupThreshold       float64
	classifyThreshold    float64
	frequencyThreshold   float64
	correlationThreshold float64
	tiePriority          string

	logger *zap.Logger
}

// Option configures a Matcher.
type Option func(*options)

// WithModelPaths sets the ONNX model and vocabulary file paths.
func WithModelPaths(model, vocab string) Option {
	return func(o *options) {
		o.modelPath = model
		o.vocabPath = vocab
	}
}

// WithCacheDir enables the on-disk embedding cache. Default: disabled.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithStorePath sets the artifact database file. Default: equimatch.db.
func WithStorePath(path string) Option {
	return func(o *options) {
		o.storePath = path
	}
}

// WithService enables the external classification service for records the
// local classifier cannot place. Without it such records stay unresolved.
func WithService(endpoint, apiKey string) Option {
	return func(o *options) {
		o.serviceEndpoint = endpoint
		o.serviceAPIKey = apiKey
	}
}

// WithServicePacing tunes the service call spacing and the per-record
// attempt limit. Defaults: 2s between calls, 3 attempts.
func WithServicePacing(minInterval time.Duration, maxAttempts int) Option {
	return func(o *options) {
		o.serviceMinInterval = minInterval
		o.serviceMaxAttempts = maxAttempts
	}
}

// WithGroupThreshold sets the near-duplicate similarity threshold.
// Default: 0.97.
func WithGroupThreshold(t float64) Option {
	return func(o *options) {
		o.groupThreshold = t
	}
}

// WithClassifyThreshold sets the minimum similarity for a local heading
// assignment. Default: 0.9.
func WithClassifyThreshold(t float64) Option {
	return func(o *options) {
		o.classifyThreshold = t
	}
}

// WithSuggestThresholds sets the frequency threshold (percent, exceeded
// strictly) and the correlation threshold (inclusive). Defaults: 80, 0.7.
func WithSuggestThresholds(frequency, correlation float64) Option {
	return func(o *options) {
		o.frequencyThreshold = frequency
		o.correlationThreshold = correlation
	}
}

// WithTiePriority decides between equal-probability frequency and
// correlation suggestions: "correlation" (default) or "frequency".
func WithTiePriority(p string) Option {
	return func(o *options) {
		o.tiePriority = p
	}
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

func defaultOptions() options {
	return options{
		modelPath:            "models/model.onnx",
		vocabPath:            "models/vocab.txt",
		storePath:            "equimatch.db",
		serviceTimeout:       30 * time.Second,
		serviceMinInterval:   2 * time.Second,
		serviceMaxAttempts:   3,
		groupThreshold:       0.97,
		classifyThreshold:    0.9,
		frequencyThreshold:   80,
		correlationThreshold: 0.7,
		tiePriority:          "correlation",
	}
}
