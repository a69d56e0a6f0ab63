package chunker

import (
	"errors"
	"math"
)

var (
	// ErrInvalidTarget indicates a non-positive target size.
	ErrInvalidTarget = errors.New("target tokens must be positive")
	// ErrInvalidTolerance indicates a tolerance outside [0, 1).
	ErrInvalidTolerance = errors.New("tolerance must be in [0, 1)")
	// ErrInvalidCeiling indicates a negative hard ceiling.
	ErrInvalidCeiling = errors.New("hard ceiling must not be negative")
	// ErrInvalidOverlap indicates a negative overlap.
	ErrInvalidOverlap = errors.New("overlap tokens must not be negative")
	// ErrOverlapTooLarge indicates overlap >= target.
	ErrOverlapTooLarge = errors.New("overlap tokens must be smaller than target tokens")
)

// Config controls chunk sizing.
type Config struct {
	TargetTokens  int     // Preferred chunk size.
	Tolerance     float64 // Fraction above target a chunk may reach.
	HardCeiling   int     // Absolute cap before a unit is sub-split; 0 means Limit().
	OverlapTokens int     // Tokens copied from the previous chunk.
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		TargetTokens:  10000,
		Tolerance:     0.1,
		HardCeiling:   12000,
		OverlapTokens: 200,
	}
}

// Validate checks the configuration. Every error is fatal to planning.
func (c Config) Validate() error {
	if c.TargetTokens <= 0 {
		return ErrInvalidTarget
	}
	if c.Tolerance < 0 || c.Tolerance >= 1 || math.IsNaN(c.Tolerance) {
		return ErrInvalidTolerance
	}
	if c.HardCeiling < 0 {
		return ErrInvalidCeiling
	}
	if c.OverlapTokens < 0 {
		return ErrInvalidOverlap
	}
	if c.OverlapTokens >= c.TargetTokens {
		return ErrOverlapTooLarge
	}
	return nil
}

// Limit is the largest primary size a packed chunk may reach.
func (c Config) Limit() int {
	return int(math.Floor(float64(c.TargetTokens)*(1+c.Tolerance) + 1e-9))
}

// Normalize fills a zero ceiling with Limit() and raises a ceiling below
// the target up to the target. clamped reports the latter.
func (c Config) Normalize() (out Config, clamped bool) {
	out = c
	if out.HardCeiling == 0 {
		out.HardCeiling = out.Limit()
		return out, false
	}
	if out.HardCeiling < out.TargetTokens {
		out.HardCeiling = out.TargetTokens
		return out, true
	}
	return out, false
}
