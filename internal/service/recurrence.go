package service

import (
	"slices"
	"time"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

// ComputeNextRunAt returns the next run after from. ok is false when the
// recurrence does not repeat, in which case the job should complete.
func ComputeNextRunAt(r domain.Recurrence, from time.Time) (next time.Time, ok bool) {
	interval := r.Interval
	if interval <= 0 {
		interval = 1
	}

	switch r.Frequency {
	case domain.FrequencyDaily:
		return from.AddDate(0, 0, interval), true

	case domain.FrequencyWeekly:
		if len(r.Weekdays) == 0 {
			return from.AddDate(0, 0, 7*interval), true
		}
		for i := 1; i <= 14*interval; i++ {
			candidate := from.AddDate(0, 0, i)
			if slices.Contains(r.Weekdays, candidate.Weekday()) {
				return candidate, true
			}
		}
		return from.AddDate(0, 0, 7*interval), true

	case domain.FrequencyMonthly:
		return from.AddDate(0, interval, 0), true

	case domain.FrequencyYearly:
		return from.AddDate(interval, 0, 0), true

	case domain.FrequencyCustom:
		if r.CustomMinutes <= 0 {
			return time.Time{}, false
		}
		return from.Add(time.Duration(r.CustomMinutes) * time.Minute), true
	}

	return time.Time{}, false
}
