package dags

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maxSlots bounds catch-up enumeration
const maxSlots = 10000

// maxLookback bounds the search for the latest slot
const maxLookback = 8 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression or descriptor (@daily, @hourly, ...).
// All times are evaluated in UTC.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// ParseSchedule parses a standard 5-field cron expression or descriptor
func ParseSchedule(expr string) (*Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("스케줄 '%s' 파싱 실패: %w", expr, err)
	}
	return &Schedule{expr: expr, sched: sched}, nil
}

// String returns the original expression
func (s *Schedule) String() string { return s.expr }

// Next returns the first fire time strictly after t
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.UTC())
}

// Slots returns the fire times in (after, until], at or after start, oldest first
func (s *Schedule) Slots(start, after, until time.Time) []time.Time {
	from := after
	if !start.IsZero() && from.Before(start) {
		// start 자체도 슬롯이 될 수 있도록 1초 앞에서 시작
		from = start.Add(-time.Second)
	}

	var slots []time.Time
	for t := s.Next(from); !t.IsZero() && !t.After(until); t = s.Next(t) {
		slots = append(slots, t)
		if len(slots) >= maxSlots {
			break
		}
	}
	return slots
}

// Latest returns the last fire time at or before now that is not before start
func (s *Schedule) Latest(start, now time.Time) (time.Time, bool) {
	if now.Before(start) {
		return time.Time{}, false
	}

	// 최근 구간부터 거슬러 올라가며 탐색
	for window := 24 * time.Hour; window <= maxLookback; window *= 2 {
		from := now.Add(-window)
		if from.Before(start) {
			from = start.Add(-time.Second)
		}

		var last time.Time
		for t := s.Next(from); !t.IsZero() && !t.After(now); t = s.Next(t) {
			last = t
		}
		if !last.IsZero() {
			return last, true
		}
		if !from.After(start) {
			break
		}
	}
	return time.Time{}, false
}
