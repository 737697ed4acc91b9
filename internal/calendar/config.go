package calendar

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resource is an agenda handle within a half-day.
type Resource int

const (
	Primary   Resource = 1
	Secondary Resource = 2
)

func (r Resource) Valid() bool { return r == Primary || r == Secondary }

func (r Resource) String() string { return fmt.Sprintf("%d", int(r)) }

// HalfDay names the morning or afternoon opening interval.
type HalfDay string

const (
	Morning   HalfDay = "morning"
	Afternoon HalfDay = "afternoon"
)

// Window is an opening interval [Open, Close).
type Window struct {
	Open  TimeOfDay
	Close TimeOfDay
}

func (w Window) String() string { return w.Open.String() + "-" + w.Close.String() }

// Session describes one half-day: the primary window and the optional
// secondary window that opens once the primary is full.
type Session struct {
	Primary   Window
	Secondary *Window
	// AlternateWeeks restricts the secondary window to even weeks counted
	// from Config.AlternationAnchor.
	AlternateWeeks bool
}

// DayPlan holds the sessions of one weekday. A nil session is closed.
type DayPlan struct {
	Morning   *Session
	Afternoon *Session
}

// PractitionerRule assigns a practitioner to times in [From, Until) on a
// weekday. Resource zero matches either agenda.
type PractitionerRule struct {
	Weekday      time.Weekday
	Resource     Resource
	From         TimeOfDay
	Until        TimeOfDay
	Practitioner string
}

// Config is the clinic's calendar table. Build it once at startup and hand
// it to NewRules; Rules keeps its own copy.
type Config struct {
	SlotLength        time.Duration
	Days              map[time.Weekday]DayPlan
	AlternationAnchor time.Time
	Practitioners     []PractitionerRule
	PrimaryRoom       string
	AlternateRoom     string
	// AlternateRoomDays force the alternate room for the primary agenda.
	AlternateRoomDays []time.Weekday
}

func window(open, close TimeOfDay) *Window {
	return &Window{Open: open, Close: close}
}

// DefaultConfig returns the clinic's standard week.
func DefaultConfig() *Config {
	morning := Window{Open: Clock(10, 15), Close: Clock(14, 0)}
	afternoon := Window{Open: Clock(15, 0), Close: Clock(20, 15)}

	plain := func() DayPlan {
		return DayPlan{
			Morning:   &Session{Primary: morning},
			Afternoon: &Session{Primary: afternoon},
		}
	}

	days := map[time.Weekday]DayPlan{
		time.Monday: {
			Morning:   &Session{Primary: morning, Secondary: window(Clock(10, 30), Clock(13, 30))},
			// the second Monday agenda keeps the primary's afternoon hours
			Afternoon: &Session{Primary: afternoon, Secondary: window(afternoon.Open, afternoon.Close)},
		},
		time.Tuesday:   plain(),
		time.Wednesday: plain(),
		time.Thursday: {
			Morning:   &Session{Primary: morning, Secondary: window(Clock(10, 30), Clock(13, 30))},
			Afternoon: &Session{Primary: afternoon, Secondary: window(Clock(15, 30), Clock(20, 0))},
		},
		time.Friday: plain(),
	}

	const (
		a = "practitioner-a"
		b = "practitioner-b"
		c = "practitioner-c"
	)
	open, close := Clock(10, 0), Clock(21, 0)

	return &Config{
		SlotLength:        45 * time.Minute,
		Days:              days,
		AlternationAnchor: time.Date(2025, time.April, 14, 0, 0, 0, 0, time.UTC),
		Practitioners: []PractitionerRule{
			{Weekday: time.Monday, Resource: Primary, From: open, Until: Clock(14, 0), Practitioner: a},
			{Weekday: time.Monday, Resource: Primary, From: Clock(14, 0), Until: close, Practitioner: b},
			{Weekday: time.Monday, Resource: Secondary, From: open, Until: close, Practitioner: c},
			{Weekday: time.Tuesday, From: open, Until: close, Practitioner: a},
			{Weekday: time.Wednesday, From: open, Until: Clock(12, 30), Practitioner: b},
			{Weekday: time.Wednesday, From: Clock(12, 30), Until: close, Practitioner: a},
			{Weekday: time.Thursday, From: open, Until: close, Practitioner: c},
			{Weekday: time.Friday, From: open, Until: close, Practitioner: a},
		},
		PrimaryRoom:   "Box 1",
		AlternateRoom: "Box 2",
	}
}

// Validate reports the first structural problem in the table.
func (c *Config) Validate() error {
	if c.SlotLength <= 0 {
		return errors.New("calendar: slot length must be positive")
	}
	if c.PrimaryRoom == "" || c.AlternateRoom == "" {
		return errors.New("calendar: both rooms must be named")
	}
	for day, plan := range c.Days {
		for _, s := range []*Session{plan.Morning, plan.Afternoon} {
			if s == nil {
				continue
			}
			if s.Primary.Open >= s.Primary.Close {
				return fmt.Errorf("calendar: %s primary window %s is empty", day, s.Primary)
			}
			if s.Secondary != nil && s.Secondary.Open >= s.Secondary.Close {
				return fmt.Errorf("calendar: %s secondary window %s is empty", day, s.Secondary)
			}
		}
	}
	for i, r := range c.Practitioners {
		if r.Practitioner == "" {
			return fmt.Errorf("calendar: practitioner rule %d has no practitioner", i)
		}
		if r.From >= r.Until {
			return fmt.Errorf("calendar: practitioner rule %d has an empty range", i)
		}
		if r.Resource != 0 && !r.Resource.Valid() {
			return fmt.Errorf("calendar: practitioner rule %d has agenda %d", i, r.Resource)
		}
	}
	return nil
}

func (c *Config) clone() *Config {
	out := *c
	out.Days = make(map[time.Weekday]DayPlan, len(c.Days))
	for day, plan := range c.Days {
		out.Days[day] = DayPlan{Morning: cloneSession(plan.Morning), Afternoon: cloneSession(plan.Afternoon)}
	}
	out.Practitioners = append([]PractitionerRule(nil), c.Practitioners...)
	out.AlternateRoomDays = append([]time.Weekday(nil), c.AlternateRoomDays...)
	return &out
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Secondary != nil {
		w := *s.Secondary
		out.Secondary = &w
	}
	return &out
}

// rule file layout

type fileConfig struct {
	SlotMinutes       int                    `yaml:"slot_minutes"`
	AlternationAnchor string                 `yaml:"alternation_anchor"`
	Rooms             *fileRooms             `yaml:"rooms"`
	Days              map[string]fileDayPlan `yaml:"days"`
	Practitioners     []fileRule             `yaml:"practitioners"`
}

type fileRooms struct {
	Primary       string   `yaml:"primary"`
	Alternate     string   `yaml:"alternate"`
	AlternateDays []string `yaml:"alternate_days"`
}

type fileDayPlan struct {
	Morning   *fileSession `yaml:"morning"`
	Afternoon *fileSession `yaml:"afternoon"`
}

type fileSession struct {
	Primary        string `yaml:"primary"`
	Secondary      string `yaml:"secondary"`
	AlternateWeeks bool   `yaml:"alternate_weeks"`
}

type fileRule struct {
	Day          string `yaml:"day"`
	Agenda       int    `yaml:"agenda"`
	From         string `yaml:"from"`
	Until        string `yaml:"until"`
	Practitioner string `yaml:"practitioner"`
}

// LoadConfig reads a YAML rule file on top of DefaultConfig. Sections
// present in the file replace the corresponding defaults wholesale.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read rules: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML rule data on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("calendar: parse rules: %w", err)
	}

	cfg := DefaultConfig()
	if fc.SlotMinutes > 0 {
		cfg.SlotLength = time.Duration(fc.SlotMinutes) * time.Minute
	}
	if fc.AlternationAnchor != "" {
		anchor, err := ParseDate(fc.AlternationAnchor)
		if err != nil {
			return nil, fmt.Errorf("calendar: alternation_anchor: %w", err)
		}
		cfg.AlternationAnchor = anchor
	}
	if fc.Rooms != nil {
		cfg.PrimaryRoom = fc.Rooms.Primary
		cfg.AlternateRoom = fc.Rooms.Alternate
		cfg.AlternateRoomDays = nil
		for _, name := range fc.Rooms.AlternateDays {
			day, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			cfg.AlternateRoomDays = append(cfg.AlternateRoomDays, day)
		}
	}
	if fc.Days != nil {
		cfg.Days = make(map[time.Weekday]DayPlan, len(fc.Days))
		for name, fd := range fc.Days {
			day, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			var plan DayPlan
			if plan.Morning, err = fd.Morning.session(); err != nil {
				return nil, fmt.Errorf("calendar: %s morning: %w", name, err)
			}
			if plan.Afternoon, err = fd.Afternoon.session(); err != nil {
				return nil, fmt.Errorf("calendar: %s afternoon: %w", name, err)
			}
			cfg.Days[day] = plan
		}
	}
	if fc.Practitioners != nil {
		cfg.Practitioners = make([]PractitionerRule, 0, len(fc.Practitioners))
		for i, fr := range fc.Practitioners {
			rule, err := fr.rule()
			if err != nil {
				return nil, fmt.Errorf("calendar: practitioner rule %d: %w", i, err)
			}
			cfg.Practitioners = append(cfg.Practitioners, rule)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fs *fileSession) session() (*Session, error) {
	if fs == nil || fs.Primary == "" {
		return nil, nil
	}
	primary, err := parseWindow(fs.Primary)
	if err != nil {
		return nil, err
	}
	s := &Session{Primary: primary, AlternateWeeks: fs.AlternateWeeks}
	if fs.Secondary != "" {
		secondary, err := parseWindow(fs.Secondary)
		if err != nil {
			return nil, err
		}
		s.Secondary = &secondary
	}
	return s, nil
}

func (fr fileRule) rule() (PractitionerRule, error) {
	day, err := parseWeekday(fr.Day)
	if err != nil {
		return PractitionerRule{}, err
	}
	from, err := ParseTimeOfDay(fr.From)
	if err != nil {
		return PractitionerRule{}, err
	}
	until, err := ParseTimeOfDay(fr.Until)
	if err != nil {
		return PractitionerRule{}, err
	}
	return PractitionerRule{
		Weekday:      day,
		Resource:     Resource(fr.Agenda),
		From:         from,
		Until:        until,
		Practitioner: fr.Practitioner,
	}, nil
}

func parseWindow(s string) (Window, error) {
	open, close, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("window %q must look like HH:MM-HH:MM", s)
	}
	o, err := ParseTimeOfDay(open)
	if err != nil {
		return Window{}, err
	}
	c, err := ParseTimeOfDay(close)
	if err != nil {
		return Window{}, err
	}
	return Window{Open: o, Close: c}, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == n {
			return d, nil
		}
	}
	return 0, fmt.Errorf("calendar: unknown weekday %q", name)
}
