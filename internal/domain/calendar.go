package domain

import (
	"fmt"
	"time"
)

// RepairCalendar lists the dates known to be bad and how each is repaired.
// The three sets are disjoint.
type RepairCalendar struct {
	Drop        []time.Time
	Midpoint    []time.Time
	Interpolate []time.Time
}

// Validate rejects a date listed under more than one strategy.
func (c RepairCalendar) Validate() error {
	seen := make(map[string]string)
	check := func(name string, dates []time.Time) error {
		for _, d := range dates {
			key := FormatDate(d)
			if prev, ok := seen[key]; ok && prev != name {
				return ConfigErrorf("date %s listed as both %s and %s", key, prev, name)
			}
			seen[key] = name
		}
		return nil
	}
	if err := check("drop", c.Drop); err != nil {
		return err
	}
	if err := check("midpoint", c.Midpoint); err != nil {
		return err
	}
	return check("interpolate", c.Interpolate)
}

// Empty reports whether no date is flagged.
func (c RepairCalendar) Empty() bool {
	return len(c.Drop) == 0 && len(c.Midpoint) == 0 && len(c.Interpolate) == 0
}

func (c RepairCalendar) String() string {
	return fmt.Sprintf("drop=%d midpoint=%d interpolate=%d", len(c.Drop), len(c.Midpoint), len(c.Interpolate))
}
