package geolocate

import (
	"errors"
	"fmt"
)

// SmoothingParams holds the empirical constants of the pseudo-Good-Turing
// scheme. They are kept configurable rather than hard-coded.
type SmoothingParams struct {
	// MaxUnseenMass caps the mass a model reserves for unseen terms.
	MaxUnseenMass float64
	// MinSeenOnce floors the seen-once type count used for unseen mass.
	MinSeenOnce float64
	// UnseenTypeDivisor estimates globally unseen types as
	// max(#types seen once, #types / UnseenTypeDivisor).
	UnseenTypeDivisor float64
}

// DefaultSmoothing returns the constants used in the original experiments.
func DefaultSmoothing() SmoothingParams {
	return SmoothingParams{
		MaxUnseenMass:     0.5,
		MinSeenOnce:       1,
		UnseenTypeDivisor: 20,
	}
}

// Config contains the options consumed by grids, caches and evaluators.
type Config struct {
	DegreesPerCell      float64         // Tile size in degrees (default: 1)
	MultiCellWidth      int             // Tiles per multi-cell side (default: 1)
	BucketSize          int             // k-d leaf bucket size (default: 200)
	SplitMethod         SplitMethod     // k-d split rule (default: halfway)
	Backoff             bool            // Use every k-d node as a cell
	SubdivisionCutoff   int             // k-d logical-leaf cutoff, 0 = true leaves
	InterpolationWeight float64         // Parent blend weight for k-d nodes, 0 = off
	CacheCapacity       int             // Cell distribution cache entries (default: 10000)
	MinTermCount        int             // Prune cell terms below this count
	Bigrams             bool            // Build bigram models instead of unigram ones
	Smoothing           SmoothingParams // Unseen-mass constants
	CreditHorizon       int             // Max rank receiving credit (default: 10)
	DistanceIncrement   float64         // Fractional cell-size bucket width (default: 0.25)
	Logger              *Logger
	Metrics             MetricsCollector
}

// Option is a functional option for configuring grids and evaluators.
type Option func(*Config)

// WithDegreesPerCell sets the tile size in degrees.
func WithDegreesPerCell(deg float64) Option {
	return func(c *Config) {
		c.DegreesPerCell = deg
	}
}

// WithCellSizeKm sets the tile size in kilometres, converted with the fixed
// equatorial KmPerDegree.
func WithCellSizeKm(km float64) Option {
	return func(c *Config) {
		c.DegreesPerCell = DegreesForKm(km)
	}
}

// WithMultiCellWidth sets the number of tiles on each side of a multi-cell.
func WithMultiCellWidth(w int) Option {
	return func(c *Config) {
		c.MultiCellWidth = w
	}
}

// WithBucketSize sets the k-d tree leaf bucket size.
func WithBucketSize(n int) Option {
	return func(c *Config) {
		c.BucketSize = n
	}
}

// WithSplitMethod sets how k-d nodes choose their split value.
func WithSplitMethod(m SplitMethod) Option {
	return func(c *Config) {
		c.SplitMethod = m
	}
}

// WithBackoff makes every k-d node, not just leaves, a rankable cell.
func WithBackoff(on bool) Option {
	return func(c *Config) {
		c.Backoff = on
	}
}

// WithSubdivisionCutoff sets the point count above which k-d nodes are split
// into logical leaves. Zero selects the true leaves.
func WithSubdivisionCutoff(n int) Option {
	return func(c *Config) {
		c.SubdivisionCutoff = n
	}
}

// WithInterpolationWeight blends each k-d node with its parent.
func WithInterpolationWeight(w float64) Option {
	return func(c *Config) {
		c.InterpolationWeight = w
	}
}

// WithCacheCapacity bounds the cell distribution cache.
func WithCacheCapacity(n int) Option {
	return func(c *Config) {
		c.CacheCapacity = n
	}
}

// WithMinTermCount prunes cell-model terms seen fewer than n times.
func WithMinTermCount(n int) Option {
	return func(c *Config) {
		c.MinTermCount = n
	}
}

// WithBigrams switches cell and document models to bigram models.
func WithBigrams(on bool) Option {
	return func(c *Config) {
		c.Bigrams = on
	}
}

// WithSmoothing overrides the smoothing constants.
func WithSmoothing(p SmoothingParams) Option {
	return func(c *Config) {
		c.Smoothing = p
	}
}

// WithCreditHorizon sets the maximum rank that earns partial credit.
func WithCreditHorizon(n int) Option {
	return func(c *Config) {
		c.CreditHorizon = n
	}
}

// WithDistanceIncrement sets the fractional bucket width used when grouping
// documents by distance to the true cell centre.
func WithDistanceIncrement(f float64) Option {
	return func(c *Config) {
		c.DistanceIncrement = f
	}
}

// WithLogger sets the logger. Nil selects NoopLogger.
func WithLogger(l *Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector. Nil selects NoopMetricsCollector.
func WithMetrics(m MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() *Config {
	return &Config{
		DegreesPerCell:    1,
		MultiCellWidth:    1,
		BucketSize:        200,
		SplitMethod:       SplitHalfway,
		CacheCapacity:     10000,
		Smoothing:         DefaultSmoothing(),
		CreditHorizon:     10,
		DistanceIncrement: 0.25,
	}
}

// NewConfig applies opts over the defaults and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetricsCollector{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case !(c.DegreesPerCell > 0) || c.DegreesPerCell > 180:
		return &ConfigError{Field: "DegreesPerCell", Value: c.DegreesPerCell, cause: errors.New("must be in (0, 180]")}
	case c.MultiCellWidth < 1:
		return &ConfigError{Field: "MultiCellWidth", Value: c.MultiCellWidth, cause: errors.New("must be >= 1")}
	case c.BucketSize < 1:
		return &ConfigError{Field: "BucketSize", Value: c.BucketSize, cause: errors.New("must be >= 1")}
	case c.SubdivisionCutoff < 0:
		return &ConfigError{Field: "SubdivisionCutoff", Value: c.SubdivisionCutoff, cause: errors.New("must be >= 0")}
	case c.InterpolationWeight < 0 || c.InterpolationWeight >= 1:
		return &ConfigError{Field: "InterpolationWeight", Value: c.InterpolationWeight, cause: errors.New("must be in [0, 1)")}
	case c.CacheCapacity < 1:
		return &ConfigError{Field: "CacheCapacity", Value: c.CacheCapacity, cause: errors.New("must be >= 1")}
	case c.MinTermCount < 0:
		return &ConfigError{Field: "MinTermCount", Value: c.MinTermCount, cause: errors.New("must be >= 0")}
	case c.CreditHorizon < 1:
		return &ConfigError{Field: "CreditHorizon", Value: c.CreditHorizon, cause: errors.New("must be >= 1")}
	case !(c.DistanceIncrement > 0):
		return &ConfigError{Field: "DistanceIncrement", Value: c.DistanceIncrement, cause: errors.New("must be > 0")}
	}
	if err := c.Smoothing.validate(); err != nil {
		return &ConfigError{Field: "Smoothing", Value: c.Smoothing, cause: err}
	}
	if !c.SplitMethod.valid() {
		return &ConfigError{Field: "SplitMethod", Value: c.SplitMethod}
	}
	return nil
}

func (p SmoothingParams) validate() error {
	if !(p.MaxUnseenMass > 0) || p.MaxUnseenMass >= 1 {
		return fmt.Errorf("MaxUnseenMass %v must be in (0, 1)", p.MaxUnseenMass)
	}
	if !(p.MinSeenOnce > 0) {
		return fmt.Errorf("MinSeenOnce %v must be > 0", p.MinSeenOnce)
	}
	if !(p.UnseenTypeDivisor > 0) {
		return fmt.Errorf("UnseenTypeDivisor %v must be > 0", p.UnseenTypeDivisor)
	}
	return nil
}
