package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Client-name matchers selectable from a policy file.
const (
	MatcherSubstring   = "substring"
	MatcherJaroWinkler = "jaro_winkler"
)

// TimeBand awards Points when the scheduled time is within Within of the
// batch timestamp. The widest band is the acceptance window.
type TimeBand struct {
	Within time.Duration `yaml:"within" json:"within"`
	Points int           `yaml:"points" json:"points"`
}

// VolumeBand awards Points when the relative volume difference is at most
// MaxRelativeDiff (0.02 == 2%).
type VolumeBand struct {
	MaxRelativeDiff float64 `yaml:"max_relative_diff" json:"max_relative_diff"`
	Points          int     `yaml:"points" json:"points"`
}

// Policy carries every tunable of scoring and classification.
type Policy struct {
	TimeBands           []TimeBand   `yaml:"time_bands" json:"time_bands"`
	UnscheduledPoints   int          `yaml:"unscheduled_points" json:"unscheduled_points"`
	ClientExactPoints   int          `yaml:"client_exact_points" json:"client_exact_points"`
	ClientPartialPoints int          `yaml:"client_partial_points" json:"client_partial_points"`
	ClientMatcher       string       `yaml:"client_matcher" json:"client_matcher"`
	ClientFuzzyMin      float64      `yaml:"client_fuzzy_min" json:"client_fuzzy_min"`
	VolumeBands         []VolumeBand `yaml:"volume_bands" json:"volume_bands"`
	FormulaPoints       int          `yaml:"formula_points" json:"formula_points"`
	AutoLinkThreshold   int          `yaml:"auto_link_threshold" json:"auto_link_threshold"`
	ReviewThreshold     int          `yaml:"review_threshold" json:"review_threshold"`
}

func DefaultPolicy() Policy {
	return Policy{
		TimeBands: []TimeBand{
			{Within: 30 * time.Minute, Points: 25},
			{Within: 60 * time.Minute, Points: 20},
			{Within: 2 * time.Hour, Points: 15},
		},
		UnscheduledPoints:   10,
		ClientExactPoints:   35,
		ClientPartialPoints: 25,
		ClientMatcher:       MatcherSubstring,
		ClientFuzzyMin:      0.92,
		VolumeBands: []VolumeBand{
			{MaxRelativeDiff: 0.02, Points: 25},
			{MaxRelativeDiff: 0.05, Points: 20},
			{MaxRelativeDiff: 0.10, Points: 15},
		},
		FormulaPoints:     15,
		AutoLinkThreshold: 90,
		ReviewThreshold:   70,
	}
}

// LoadPolicy reads a YAML policy file. Fields absent from the file keep
// their default values.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return Policy{}, fmt.Errorf("parsing policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Window is the widest time band.
func (p Policy) Window() time.Duration {
	if len(p.TimeBands) == 0 {
		return 0
	}
	return p.TimeBands[len(p.TimeBands)-1].Within
}

func (p Policy) MaxTimePoints() int {
	best := p.UnscheduledPoints
	for _, b := range p.TimeBands {
		best = max(best, b.Points)
	}
	return best
}

func (p Policy) MaxVolumePoints() int {
	best := 0
	for _, b := range p.VolumeBands {
		best = max(best, b.Points)
	}
	return best
}

// MaxConfidence is the highest confidence the policy can award.
func (p Policy) MaxConfidence() int {
	return p.MaxTimePoints() + max(p.ClientExactPoints, p.ClientPartialPoints) + p.MaxVolumePoints() + p.FormulaPoints
}

func (p Policy) Validate() error {
	if len(p.TimeBands) == 0 {
		return errors.New("policy: at least one time band required")
	}
	for i, b := range p.TimeBands {
		if b.Within <= 0 || b.Points < 0 {
			return fmt.Errorf("policy: time band %d invalid", i)
		}
		if i > 0 && b.Within <= p.TimeBands[i-1].Within {
			return fmt.Errorf("policy: time bands must widen, band %d does not", i)
		}
	}
	for i, b := range p.VolumeBands {
		if b.MaxRelativeDiff < 0 || b.Points < 0 {
			return fmt.Errorf("policy: volume band %d invalid", i)
		}
		if i > 0 && b.MaxRelativeDiff <= p.VolumeBands[i-1].MaxRelativeDiff {
			return fmt.Errorf("policy: volume bands must widen, band %d does not", i)
		}
	}
	if p.UnscheduledPoints < 0 || p.ClientExactPoints < 0 || p.ClientPartialPoints < 0 || p.FormulaPoints < 0 {
		return errors.New("policy: factor points must be non-negative")
	}
	switch p.ClientMatcher {
	case "", MatcherSubstring:
	case MatcherJaroWinkler:
		if p.ClientFuzzyMin <= 0 || p.ClientFuzzyMin > 1 {
			return fmt.Errorf("policy: client_fuzzy_min %.2f outside (0, 1]", p.ClientFuzzyMin)
		}
	default:
		return fmt.Errorf("policy: unknown client matcher %q", p.ClientMatcher)
	}
	if p.MaxConfidence() > 100 {
		return fmt.Errorf("policy: factor caps sum to %d, above 100", p.MaxConfidence())
	}
	if p.ReviewThreshold <= 0 || p.ReviewThreshold > p.AutoLinkThreshold || p.AutoLinkThreshold > 100 {
		return fmt.Errorf("policy: thresholds must satisfy 0 < review (%d) <= auto link (%d) <= 100",
			p.ReviewThreshold, p.AutoLinkThreshold)
	}
	return nil
}
