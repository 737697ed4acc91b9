package calendar

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrNoAssignment is returned when the table does not cover a combination.
var ErrNoAssignment = errors.New("no assignment for this day, time and agenda")

// SessionPlan is the resolved opening of one half-day on a specific date.
type SessionPlan struct {
	HalfDay   HalfDay
	Primary   Window
	Secondary *Window
}

// Rules answers calendar questions from an immutable copy of a Config.
type Rules struct {
	cfg *Config
}

// NewRules validates cfg and takes a private copy of it.
func NewRules(cfg *Config) (*Rules, error) {
	if cfg == nil {
		return nil, errors.New("calendar: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rules{cfg: cfg.clone()}, nil
}

// MustDefaultRules builds Rules from DefaultConfig.
func MustDefaultRules() *Rules {
	r, err := NewRules(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) SlotLength() time.Duration { return r.cfg.SlotLength }

// Open reports whether the clinic has any session on date.
func (r *Rules) Open(date time.Time) bool {
	return len(r.Sessions(date)) > 0
}

// Sessions lists the half-days of date in chronological order. Secondary
// windows restricted to alternate weeks are dropped on odd weeks.
func (r *Rules) Sessions(date time.Time) []SessionPlan {
	plan, ok := r.cfg.Days[date.Weekday()]
	if !ok {
		return nil
	}
	var out []SessionPlan
	for _, hs := range []struct {
		half HalfDay
		s    *Session
	}{{Morning, plan.Morning}, {Afternoon, plan.Afternoon}} {
		if hs.s == nil {
			continue
		}
		sp := SessionPlan{HalfDay: hs.half, Primary: hs.s.Primary}
		if hs.s.Secondary != nil && (!hs.s.AlternateWeeks || r.secondaryWeek(date)) {
			w := *hs.s.Secondary
			sp.Secondary = &w
		}
		out = append(out, sp)
	}
	return out
}

func (r *Rules) secondaryWeek(date time.Time) bool {
	weeks := WeekIndex(r.cfg.AlternationAnchor, date) - 1
	return weeks%2 == 0
}

// Practitioner returns the practitioner who works agenda res at t on day.
// Combinations outside the table fail with ErrNoAssignment.
func (r *Rules) Practitioner(day time.Weekday, t TimeOfDay, res Resource) (string, error) {
	if !res.Valid() {
		return "", fmt.Errorf("%w: agenda %d", ErrNoAssignment, int(res))
	}
	for _, rule := range r.cfg.Practitioners {
		if rule.Weekday != day {
			continue
		}
		if rule.Resource != 0 && rule.Resource != res {
			continue
		}
		if t >= rule.From && t < rule.Until {
			return rule.Practitioner, nil
		}
	}
	return "", fmt.Errorf("%w: %s %s agenda %d", ErrNoAssignment, day, t, int(res))
}

// Room returns the room for agenda res on day.
func (r *Rules) Room(res Resource, day time.Weekday) (string, error) {
	switch res {
	case Secondary:
		return r.cfg.AlternateRoom, nil
	case Primary:
		if slices.Contains(r.cfg.AlternateRoomDays, day) {
			return r.cfg.AlternateRoom, nil
		}
		return r.cfg.PrimaryRoom, nil
	default:
		return "", fmt.Errorf("%w: agenda %d", ErrNoAssignment, int(res))
	}
}
