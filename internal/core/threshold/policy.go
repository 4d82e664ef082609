package threshold

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
)

// Levels is the ascending alert-level triple for one granularity.
// Index 0 is level 1. level1 < level2 < level3 is enforced at load time;
// anything else is a fatal configuration error.
type Levels [3]decimal.Decimal

// Amount returns the monetary threshold for a level (1..3).
func (l Levels) Amount(level int) decimal.Decimal {
	return l[level-1]
}

func (l Levels) validate(granularity string) error {
	for i, amount := range l {
		if amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%s threshold level%d must be positive, got %s", granularity, i+1, amount)
		}
	}
	if !l[0].LessThan(l[1]) || !l[1].LessThan(l[2]) {
		return fmt.Errorf("%s thresholds must be strictly ascending, got %s/%s/%s",
			granularity, l[0], l[1], l[2])
	}
	return nil
}

// Policy holds the alert thresholds for the two granularities that alert.
// Daily aggregates never evaluate thresholds.
type Policy struct {
	Weekly  Levels
	Monthly Levels
}

// LevelsFor returns the threshold triple for a granularity, or false when the
// granularity does not alert (daily).
func (p Policy) LevelsFor(granularity string) (Levels, bool) {
	switch granularity {
	case aggregate.GranularityWeekly:
		return p.Weekly, true
	case aggregate.GranularityMonthly:
		return p.Monthly, true
	}
	return Levels{}, false
}

// Evaluate returns the levels newly crossed by moving the running total to
// newTotal, given the aggregate's current alert flags. A level is crossed
// when newTotal has reached it and its flag is still unset; a single large
// event can cross several levels at once. The previous total is irrelevant —
// flags, not history, decide what has already been announced.
func (p Policy) Evaluate(granularity string, newTotal decimal.Decimal, agg *aggregate.Aggregate) []int {
	levels, ok := p.LevelsFor(granularity)
	if !ok {
		return nil
	}

	var crossed []int
	for level := 1; level <= 3; level++ {
		if agg.NotifiedLevel(level) {
			continue
		}
		if newTotal.GreaterThanOrEqual(levels.Amount(level)) {
			crossed = append(crossed, level)
		}
	}
	return crossed
}

// rawLevels is the on-disk YAML shape. Amounts are whole yen.
type rawLevels struct {
	Level1 string `yaml:"level1"`
	Level2 string `yaml:"level2"`
	Level3 string `yaml:"level3"`
}

type rawPolicy struct {
	Weekly  rawLevels `yaml:"weekly"`
	Monthly rawLevels `yaml:"monthly"`
}

// LoadPolicy reads and validates the threshold policy from a YAML file.
// Loaded once at startup and cached; no hot reload.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read threshold policy %q: %w", path, err)
	}

	var raw rawPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("parse threshold policy %q: %w", path, err)
	}

	weekly, err := parseLevels(raw.Weekly, "weekly")
	if err != nil {
		return Policy{}, err
	}
	monthly, err := parseLevels(raw.Monthly, "monthly")
	if err != nil {
		return Policy{}, err
	}

	policy := Policy{Weekly: weekly, Monthly: monthly}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks both triples for completeness and strict ascent.
func (p Policy) Validate() error {
	if err := p.Weekly.validate("weekly"); err != nil {
		return err
	}
	return p.Monthly.validate("monthly")
}

func parseLevels(raw rawLevels, granularity string) (Levels, error) {
	fields := [3]string{raw.Level1, raw.Level2, raw.Level3}
	var levels Levels
	for i, field := range fields {
		if field == "" {
			return Levels{}, fmt.Errorf("%s threshold level%d is missing", granularity, i+1)
		}
		amount, err := decimal.NewFromString(field)
		if err != nil {
			return Levels{}, fmt.Errorf("%s threshold level%d %q: %w", granularity, i+1, field, err)
		}
		levels[i] = amount
	}
	return levels, nil
}
