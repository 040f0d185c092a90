package models

import (
	"time"
)

// GlucoseReading is a single CGM value extracted from a broadcast
type GlucoseReading struct {
	ID           string    `json:"id" db:"id"`
	SensorSerial string    `json:"sensor_serial" db:"sensor_serial" validate:"required,max=64"`
	Value        float64   `json:"value" db:"value" validate:"gt=0,lt=1000"` // mg/dL
	Rate         float64   `json:"rate" db:"rate" validate:"gte=-10,lte=10"`
	Delta        *float64  `json:"delta,omitempty" db:"delta"`
	Time         time.Time `json:"time" db:"time" validate:"required,notfuture"`
	ReceivedAt   time.Time `json:"received_at" db:"received_at"`
	Alarm        string    `json:"alarm" db:"alarm"`
	Payload      []byte    `json:"-" db:"payload"`
}

// ValueMmol returns the reading converted to mmol/L
func (r *GlucoseReading) ValueMmol() float64 {
	return r.Value / 18.0182
}

// Age returns how old the reading is relative to now
func (r *GlucoseReading) Age(now time.Time) time.Duration {
	return now.Sub(r.Time)
}

// ReadingFilter for querying readings
type ReadingFilter struct {
	SensorSerial *string    `json:"sensor_serial,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	Alarm        *string    `json:"alarm,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}
