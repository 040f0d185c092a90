package alarm

import (
	"fmt"
	"strings"
)

// AlarmType is the clinical urgency tier of a glucose reading.
// The ordinal is the value stored in preferences and is only meaningful for
// table lookup.
type AlarmType int

const (
	None AlarmType = iota
	VeryLow
	Low
	High
	VeryHigh
	Obsolete
)

var alarmTypeNames = [...]string{
	None:     "NONE",
	VeryLow:  "VERY_LOW",
	Low:      "LOW",
	High:     "HIGH",
	VeryHigh: "VERY_HIGH",
	Obsolete: "OBSOLETE",
}

var alarmTypePrefixes = [...]string{
	VeryLow:  "alarm_very_low_",
	Low:      "alarm_low_",
	High:     "alarm_high_",
	VeryHigh: "alarm_very_high_",
	Obsolete: "alarm_obsolete_",
}

// AllTypes lists every alarm type in ordinal order
func AllTypes() []AlarmType {
	return []AlarmType{None, VeryLow, Low, High, VeryHigh, Obsolete}
}

func (t AlarmType) valid() bool {
	return t >= None && t <= Obsolete
}

func (t AlarmType) String() string {
	if !t.valid() {
		return fmt.Sprintf("AlarmType(%d)", int(t))
	}
	return alarmTypeNames[t]
}

// IsAlarm reports whether the type represents a threshold breach that is
// shown as a notification.
func (t AlarmType) IsAlarm() bool {
	_, ok := Resolve(t)
	return ok
}

// PreferencePrefix returns the preference key prefix used for per-type
// settings such as custom sounds. Empty for NONE.
func (t AlarmType) PreferencePrefix() string {
	if !t.valid() {
		return ""
	}
	return alarmTypePrefixes[t]
}

// MarshalText implements encoding.TextMarshaler
func (t AlarmType) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("invalid alarm type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *AlarmType) UnmarshalText(text []byte) error {
	parsed, err := ParseAlarmType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseAlarmType parses names like "VERY_LOW", "very-low" or "verylow"
func ParseAlarmType(s string) (AlarmType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for i, name := range alarmTypeNames {
		if norm == name || norm == strings.ReplaceAll(name, "_", "") {
			return AlarmType(i), nil
		}
	}
	return None, fmt.Errorf("unknown alarm type %q", s)
}

// FromIndex maps an ordinal back to an alarm type, NONE when out of range
func FromIndex(i int) AlarmType {
	t := AlarmType(i)
	if !t.valid() {
		return None
	}
	return t
}
