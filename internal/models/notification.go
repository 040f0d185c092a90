package models

import (
	"time"
)

// AlarmAction describes what happened to an alarm notification
type AlarmAction string

const (
	AlarmActionPosted    AlarmAction = "posted"
	AlarmActionCancelled AlarmAction = "cancelled"
	AlarmActionSnoozed   AlarmAction = "snoozed"
	AlarmActionFailed    AlarmAction = "failed"
)

// AlarmRecord is a persisted entry of the alarm notification history
type AlarmRecord struct {
	ID             string      `json:"id" db:"id"`
	NotificationID int         `json:"notification_id" db:"notification_id"`
	AlarmType      string      `json:"alarm_type" db:"alarm_type"`
	Action         AlarmAction `json:"action" db:"action"`
	ForTest        bool        `json:"for_test" db:"for_test"`
	Glucose        *float64    `json:"glucose,omitempty" db:"glucose"`
	Error          *string     `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AlarmHistoryFilter for querying alarm records
type AlarmHistoryFilter struct {
	AlarmType *string      `json:"alarm_type,omitempty"`
	Action    *AlarmAction `json:"action,omitempty"`
	Since     *time.Time   `json:"since,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}
