package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

type mapPrefs map[string]string

func (m mapPrefs) GetBool(key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	return v == "true"
}

func (m mapPrefs) GetString(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func TestBuilderDefaults(t *testing.T) {
	b := NewBuilder(nil, []int{60, 90, 120})
	m, ok := Resolve(VeryLow)
	require.True(t, ok)

	n := b.Build(VeryLow, m, nil, false)
	assert.Equal(t, 801, n.ID)
	assert.Equal(t, "VERY_LOW", n.AlarmType)
	assert.Equal(t, "gdh_very_low_alarm", n.Sound)
	assert.True(t, n.BypassDnd)
	assert.Equal(t, "---", n.Glucose)
	assert.Equal(t, "--- mg/dL", n.Text)
	assert.Equal(t, []int{60, 90, 120}, n.SnoozeOptions)
	assert.False(t, n.ForceSound)
}

func TestBuilderUsesPreferencesAndReading(t *testing.T) {
	prefs := mapPrefs{
		"alarm_high_use_custom_sound": "true",
		"alarm_high_custom_sound":     "content://media/ring/7",
		"alarm_force_sound":           "true",
	}
	b := NewBuilder(prefs, nil)
	m, _ := Resolve(High)

	delta := 4.0
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := b.Build(High, m, &models.GlucoseReading{Value: 262, Delta: &delta, Time: at}, true)

	assert.Equal(t, "content://media/ring/7", n.Sound)
	assert.True(t, n.ForceSound)
	assert.Equal(t, "262", n.Glucose)
	assert.Equal(t, "+4.0", n.Delta)
	assert.Equal(t, "262 mg/dL (Δ +4.0)", n.Text)
	assert.Equal(t, at, n.When)
	assert.Equal(t, "High alarm (test)", n.Title)
	assert.True(t, n.ForTest)
}

func TestBuilderIgnoresEmptyCustomSound(t *testing.T) {
	b := NewBuilder(mapPrefs{"alarm_low_use_custom_sound": "true"}, nil)
	m, _ := Resolve(Low)
	assert.Equal(t, "gdh_low_alarm", b.Build(Low, m, nil, false).Sound)
}
