package calendar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_OverridesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	data := strings.TrimSpace(`
slot_minutes: 30
rooms:
  primary: Room A
  alternate: Room B
  alternate_days: [thursday]
days:
  monday:
    morning:
      primary: "09:00-12:00"
      secondary: "09:30-11:30"
      alternate_weeks: true
practitioners:
  - day: monday
    agenda: 1
    from: "09:00"
    until: "12:00"
    practitioner: dr-x
`)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.SlotLength)
	assert.Equal(t, "Room A", cfg.PrimaryRoom)
	assert.Equal(t, []time.Weekday{time.Thursday}, cfg.AlternateRoomDays)
	require.Len(t, cfg.Days, 1)
	monday := cfg.Days[time.Monday]
	require.NotNil(t, monday.Morning)
	assert.Nil(t, monday.Afternoon)
	assert.True(t, monday.Morning.AlternateWeeks)
	assert.Equal(t, Window{Open: Clock(9, 30), Close: Clock(11, 30)}, *monday.Morning.Secondary)
	require.Len(t, cfg.Practitioners, 1)
	assert.Equal(t, "dr-x", cfg.Practitioners[0].Practitioner)
}

func TestParseConfig_KeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := ParseConfig([]byte("slot_minutes: 45\n"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, len(def.Days), len(cfg.Days))
	assert.Equal(t, def.Practitioners, cfg.Practitioners)
}

func TestParseConfig_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown day":  "days:\n  funday:\n    morning:\n      primary: \"10:00-11:00\"\n",
		"empty window": "days:\n  monday:\n    morning:\n      primary: \"11:00-10:00\"\n",
		"bad window":   "days:\n  monday:\n    morning:\n      primary: \"10:00\"\n",
		"bad rule":     "practitioners:\n  - day: monday\n    from: \"12:00\"\n    until: \"11:00\"\n    practitioner: x\n",
	}
	for name, data := range cases {
		_, err := ParseConfig([]byte(data))
		assert.Error(t, err, name)
	}
}
