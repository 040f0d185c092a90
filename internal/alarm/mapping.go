package alarm

// NotificationMapping holds everything needed to present one alarm severity
type NotificationMapping struct {
	NotificationID   int     `json:"notification_id"`
	ChannelID        string  `json:"channel_id"`
	SoundResource    string  `json:"sound_resource"`
	VibrationPattern []int64 `json:"vibration_pattern"`
	BypassDnd        bool    `json:"bypass_dnd"`
	Title            string  `json:"title"`
}

const (
	VeryLowNotificationID  = 801
	LowNotificationID      = 802
	HighNotificationID     = 803
	VeryHighNotificationID = 804
)

var mappingTable = map[AlarmType]NotificationMapping{
	VeryLow: {
		NotificationID:   VeryLowNotificationID,
		ChannelID:        "gdh_very_low_alarm_channel",
		SoundResource:    "gdh_very_low_alarm",
		VibrationPattern: []int64{0, 1000, 500, 1000, 500, 1000, 500, 1000, 500, 1000, 500, 1000},
		BypassDnd:        true,
		Title:            "Very low alarm",
	},
	Low: {
		NotificationID:   LowNotificationID,
		ChannelID:        "gdh_low_alarm_channel",
		SoundResource:    "gdh_low_alarm",
		VibrationPattern: []int64{0, 700, 500, 700, 500, 700, 500, 700},
		Title:            "Low alarm",
	},
	High: {
		NotificationID:   HighNotificationID,
		ChannelID:        "gdh_high_alarm_channel",
		SoundResource:    "gdh_high_alarm",
		VibrationPattern: []int64{0, 500, 500, 500, 500, 500, 500, 500},
		Title:            "High alarm",
	},
	VeryHigh: {
		NotificationID:   VeryHighNotificationID,
		ChannelID:        "gdh_very_high_alarm_channel",
		SoundResource:    "gdh_very_high_alarm",
		VibrationPattern: []int64{0, 800, 500, 800, 800, 600, 800, 800, 500, 800, 800, 600, 800},
		BypassDnd:        true,
		Title:            "Very high alarm",
	},
}

// Resolve looks up the notification mapping of an alarm type. NONE and
// OBSOLETE have no entry: obsolete data goes through the stop path instead.
func Resolve(t AlarmType) (NotificationMapping, bool) {
	m, ok := mappingTable[t]
	if !ok {
		return NotificationMapping{}, false
	}
	m.VibrationPattern = append([]int64(nil), m.VibrationPattern...)
	return m, true
}

// MappedTypes returns the types that own a notification, in severity order
func MappedTypes() []AlarmType {
	return []AlarmType{VeryLow, Low, High, VeryHigh}
}

// TypeForNotificationID is the reverse lookup of Resolve
func TypeForNotificationID(id int) (AlarmType, bool) {
	for _, t := range MappedTypes() {
		if mappingTable[t].NotificationID == id {
			return t, true
		}
	}
	return None, false
}
