package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/mdplan/internal/chunker"
	"github.com/dgallion1/mdplan/internal/tokens"
)

// Mode selects when a document is split.
type Mode string

const (
	ModeAuto  Mode = "auto"  // split only when the document does not fit
	ModeForce Mode = "force" // always split
	ModeOff   Mode = "off"   // never split
)

var (
	// ErrInvalidConfiguration wraps every parameter error. It is the only
	// error that aborts planning.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidMode indicates an unrecognized mode string.
	ErrInvalidMode = errors.New("mode must be one of auto, force, off")
	// ErrInvalidMargin indicates a safety margin outside (0, 1].
	ErrInvalidMargin = errors.New("safety margin must be in (0, 1]")
	// ErrInvalidLimit indicates a negative context limit.
	ErrInvalidLimit = errors.New("context limit must not be negative")
)

// ParseMode accepts auto, force and off in any case. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeForce:
		return ModeForce, nil
	case ModeOff:
		return ModeOff, nil
	}
	return ModeAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Params is the full planning configuration.
type Params struct {
	Mode           Mode    `json:"mode"`
	TargetTokens   int     `json:"target_tokens"`
	Tolerance      float64 `json:"tolerance"`
	HardCeiling    int     `json:"hard_ceiling"`
	OverlapTokens  int     `json:"overlap_tokens"`
	ContextLimit   int     `json:"context_limit"` // 0 when the model is unknown
	SafetyMargin   float64 `json:"safety_margin"`
	PricePer1K     float64 `json:"price_per_1k_input_tokens"` // 0 when unknown
	PromptOverhead int     `json:"prompt_overhead"`           // system + largest prompt part
	Parts          int     `json:"parts"`                     // prompt parts per chunk
}

// DefaultParams returns the service defaults with no known model.
func DefaultParams() Params {
	c := chunker.DefaultConfig()
	return Params{
		Mode:          ModeAuto,
		TargetTokens:  c.TargetTokens,
		Tolerance:     c.Tolerance,
		HardCeiling:   c.HardCeiling,
		OverlapTokens: c.OverlapTokens,
		SafetyMargin:  tokens.DefaultSafetyMargin,
		Parts:         1,
	}
}

// ChunkConfig extracts the chunk sizing options.
func (p Params) ChunkConfig() chunker.Config {
	return chunker.Config{
		TargetTokens:  p.TargetTokens,
		Tolerance:     p.Tolerance,
		HardCeiling:   p.HardCeiling,
		OverlapTokens: p.OverlapTokens,
	}
}

// Validate reports the first invalid parameter, wrapped in ErrInvalidConfiguration.
func (p Params) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := p.ChunkConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if p.SafetyMargin <= 0 || p.SafetyMargin > 1 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrInvalidMargin)
	}
	if p.ContextLimit < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrInvalidLimit)
	}
	return nil
}
