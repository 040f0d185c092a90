package alarm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMappedTypes(t *testing.T) {
	seen := make(map[int]AlarmType)
	for _, at := range MappedTypes() {
		m, ok := Resolve(at)
		require.True(t, ok, at.String())

		assert.NotZero(t, m.NotificationID)
		assert.NotEmpty(t, m.ChannelID)
		assert.NotEmpty(t, m.SoundResource)
		assert.NotEmpty(t, m.VibrationPattern)
		assert.NotEmpty(t, m.Title)

		prev, dup := seen[m.NotificationID]
		assert.False(t, dup, "%s shares id %d with %s", at, m.NotificationID, prev)
		seen[m.NotificationID] = at

		back, ok := TypeForNotificationID(m.NotificationID)
		require.True(t, ok)
		assert.Equal(t, at, back)
	}
	assert.Len(t, seen, 4)
}

func TestResolveUnmapped(t *testing.T) {
	for _, at := range []AlarmType{None, Obsolete, AlarmType(42)} {
		_, ok := Resolve(at)
		assert.False(t, ok, at.String())
		assert.False(t, at.IsAlarm())
	}
}

func TestResolveTable(t *testing.T) {
	tests := []struct {
		at     AlarmType
		id     int
		bypass bool
		sound  string
	}{
		{VeryLow, 801, true, "gdh_very_low_alarm"},
		{Low, 802, false, "gdh_low_alarm"},
		{High, 803, false, "gdh_high_alarm"},
		{VeryHigh, 804, true, "gdh_very_high_alarm"},
	}
	for _, tt := range tests {
		t.Run(tt.at.String(), func(t *testing.T) {
			m, ok := Resolve(tt.at)
			require.True(t, ok)
			assert.Equal(t, tt.id, m.NotificationID)
			assert.Equal(t, tt.bypass, m.BypassDnd)
			assert.Equal(t, tt.sound, m.SoundResource)
			assert.Equal(t, int64(0), m.VibrationPattern[0])
		})
	}
}

func TestResolveReturnsCopies(t *testing.T) {
	m, _ := Resolve(Low)
	m.VibrationPattern[1] = 1

	again, _ := Resolve(Low)
	assert.Equal(t, int64(700), again.VibrationPattern[1])
}

func TestParseAlarmType(t *testing.T) {
	for in, want := range map[string]AlarmType{
		"VERY_LOW": VeryLow,
		"very-low": VeryLow,
		"veryhigh": VeryHigh,
		" high ":   High,
		"obsolete": Obsolete,
		"NONE":     None,
	} {
		got, err := ParseAlarmType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAlarmType("critical")
	assert.Error(t, err)
}

func TestAlarmTypeJSON(t *testing.T) {
	data, err := json.Marshal(map[string]AlarmType{"type": VeryHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"VERY_HIGH"}`, string(data))

	var out struct {
		Type AlarmType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"type":"low"}`), &out))
	assert.Equal(t, Low, out.Type)
}

func TestFromIndexAndPrefix(t *testing.T) {
	assert.Equal(t, High, FromIndex(3))
	assert.Equal(t, None, FromIndex(-1))
	assert.Equal(t, None, FromIndex(99))
	assert.Equal(t, "alarm_very_low_", VeryLow.PreferencePrefix())
	assert.Equal(t, "alarm_obsolete_", Obsolete.PreferencePrefix())
	assert.Equal(t, "", None.PreferencePrefix())
}
