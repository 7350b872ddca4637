package loop

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/skillloop/internal/review"
)

// HardMaxIterations is the absolute iteration cap. No configuration can
// raise it.
const HardMaxIterations = 5

// Defaults applied to zero-valued fields.
const (
	DefaultMaxIterations       = 3
	DefaultMinImprovement      = 5.0
	DefaultQualityThreshold    = 70.0
	DefaultOscillationWindow   = 3
	DefaultStagnationThreshold = 2.0
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config controls a Controller. A zero MaxIterations, QualityThreshold,
// OscillationWindow, ReviewerModel or ReviewType takes its default. A zero
// MinImprovement or StagnationThreshold is kept as zero and relaxes that
// check, so start from DefaultConfig to get the standard limits.
type Config struct {
	// MaxIterations is the requested iteration budget, clamped to
	// HardMaxIterations.
	MaxIterations int `validate:"gte=0"`

	// MinImprovement is the smallest acceptable gain between two
	// consecutive scores. Zero only stops on a score drop.
	MinImprovement float64 `validate:"gte=0"`

	// QualityThreshold is the passing score.
	QualityThreshold float64 `validate:"gte=0,lte=100"`

	// OscillationWindow is how many recent scores the pattern checks see.
	OscillationWindow int `validate:"gte=0"`

	// StagnationThreshold is the score spread below which the loop is
	// considered flat. Zero disables stagnation detection.
	StagnationThreshold float64 `validate:"gte=0"`

	// Timeout bounds the whole run. Zero disables it.
	Timeout time.Duration `validate:"gte=0"`

	// ReviewEnabled emits review signals between iterations.
	ReviewEnabled bool

	// ReviewerModel is the model requested in signals.
	ReviewerModel string

	// ReviewType is the requested review depth; auto picks per iteration.
	ReviewType review.ReviewType `validate:"omitempty,oneof=quick full security auto"`

	// ReviewWait is how long to wait for a reviewer result before building
	// the next iteration. Zero only checks for results already delivered.
	ReviewWait time.Duration `validate:"gte=0"`
}

// DefaultConfig returns the standard loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       DefaultMaxIterations,
		MinImprovement:      DefaultMinImprovement,
		QualityThreshold:    DefaultQualityThreshold,
		OscillationWindow:   DefaultOscillationWindow,
		StagnationThreshold: DefaultStagnationThreshold,
		ReviewEnabled:       true,
		ReviewerModel:       review.DefaultModel,
		ReviewType:          review.ReviewAuto,
	}
}

// Validate checks value ranges. An oversized MaxIterations is not an error.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid loop config: %w", err)
	}
	return nil
}

// EffectiveMaxIterations returns the iteration budget actually enforced.
func (c Config) EffectiveMaxIterations() int {
	switch {
	case c.MaxIterations <= 0:
		return DefaultMaxIterations
	case c.MaxIterations > HardMaxIterations:
		return HardMaxIterations
	default:
		return c.MaxIterations
	}
}

// normalized fills unset fields and clamps the iteration budget. Only a
// negative MinImprovement or StagnationThreshold is replaced, since zero is a
// meaningful setting for both.
func (c Config) normalized() Config {
	c.MaxIterations = c.EffectiveMaxIterations()
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.OscillationWindow <= 0 {
		c.OscillationWindow = DefaultOscillationWindow
	}
	if c.MinImprovement < 0 {
		c.MinImprovement = DefaultMinImprovement
	}
	if c.StagnationThreshold < 0 {
		c.StagnationThreshold = DefaultStagnationThreshold
	}
	if c.ReviewerModel == "" {
		c.ReviewerModel = review.DefaultModel
	}
	if c.ReviewType == "" {
		c.ReviewType = review.ReviewAuto
	}
	return c
}
