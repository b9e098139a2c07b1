package iteration

import (
	"errors"
	"fmt"

	"bemflow/internal/collab"
)

// Schedule maps round indexes to modification intensity. Entry i applies to
// round i; rounds past the end use the last entry.
type Schedule []collab.Intensity

// DefaultSchedule escalates low, medium, then high.
var DefaultSchedule = Schedule{collab.IntensityLow, collab.IntensityMedium, collab.IntensityHigh}

// ParseSchedule converts configured names into a validated Schedule.
func ParseSchedule(names []string) (Schedule, error) {
	out := make(Schedule, 0, len(names))
	for i, name := range names {
		level, err := collab.ParseIntensity(name)
		if err != nil {
			return nil, fmt.Errorf("intensity schedule[%d]: %w", i, err)
		}
		out = append(out, level)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the schedule is non-empty and never decreases.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return errors.New("intensity schedule must not be empty")
	}
	for i, level := range s {
		if level < collab.IntensityLow || level > collab.IntensityHigh {
			return fmt.Errorf("intensity schedule[%d]: invalid level %d", i, int(level))
		}
		if i > 0 && level < s[i-1] {
			return fmt.Errorf("intensity schedule must be non-decreasing: %s after %s at round %d", level, s[i-1], i)
		}
	}
	return nil
}

// At returns the intensity for a round.
func (s Schedule) At(round int) collab.Intensity {
	if len(s) == 0 {
		return collab.IntensityLow
	}
	if round < 0 {
		round = 0
	}
	if round >= len(s) {
		return s[len(s)-1]
	}
	return s[round]
}
