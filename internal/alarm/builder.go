package alarm

import (
	"fmt"
	"strconv"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notification"
	"github.com/smartdevs17/glucodata-handler/internal/preferences"
)

// Preferences is the read side of the preference store
type Preferences interface {
	GetBool(key string, def bool) bool
	GetString(key, def string) string
}

// Builder composes notification content from a mapping entry, the last
// reading and the user's sound preferences.
type Builder struct {
	prefs         Preferences
	snoozeOptions []int
}

// NewBuilder creates a builder. prefs may be nil.
func NewBuilder(prefs Preferences, snoozeOptions []int) *Builder {
	return &Builder{prefs: prefs, snoozeOptions: append([]int(nil), snoozeOptions...)}
}

// Build returns the notification to post for t
func (b *Builder) Build(t AlarmType, m NotificationMapping, r *models.GlucoseReading, forTest bool) *notification.Notification {
	n := &notification.Notification{
		ID:            m.NotificationID,
		AlarmType:     t.String(),
		ChannelID:     m.ChannelID,
		Title:         m.Title,
		Sound:         b.sound(t, m),
		Vibration:     m.VibrationPattern,
		BypassDnd:     m.BypassDnd,
		ForceSound:    b.getBool(preferences.KeyAlarmForceSound),
		Vibrate:       b.getBool(preferences.KeyNotificationVibrate),
		Glucose:       "---",
		SnoozeOptions: append([]int(nil), b.snoozeOptions...),
		ForTest:       forTest,
	}

	if r != nil {
		n.Glucose = strconv.FormatFloat(r.Value, 'f', -1, 64)
		if r.Delta != nil {
			n.Delta = fmt.Sprintf("%+.1f", *r.Delta)
		}
		n.When = r.Time
	}

	n.Text = n.Glucose + " mg/dL"
	if n.Delta != "" {
		n.Text += " (Δ " + n.Delta + ")"
	}
	if forTest {
		n.Title += " (test)"
	}
	return n
}

// sound is the user's custom sound when enabled for t, else the default
func (b *Builder) sound(t AlarmType, m NotificationMapping) string {
	prefix := t.PreferencePrefix()
	if b.prefs != nil && b.prefs.GetBool(prefix+preferences.SuffixUseCustomSound, false) {
		if custom := b.prefs.GetString(prefix+preferences.SuffixCustomSound, ""); custom != "" {
			return custom
		}
	}
	return m.SoundResource
}

func (b *Builder) getBool(key string) bool {
	if b.prefs == nil {
		return false
	}
	return b.prefs.GetBool(key, false)
}
