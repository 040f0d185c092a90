package alarm

import (
	"time"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/models"
)

// Thresholds are the glucose limits in mg/dL plus the freshness window
type Thresholds struct {
	VeryLow       float64       `json:"very_low"`
	Low           float64       `json:"low"`
	High          float64       `json:"high"`
	VeryHigh      float64       `json:"very_high"`
	ObsoleteAfter time.Duration `json:"obsolete_after"`
}

// Classifier maps readings to alarm types
type Classifier struct {
	thresholds Thresholds
	repeat     time.Duration
}

// NewClassifier builds a classifier from the alarm configuration
func NewClassifier(cfg config.AlarmConfig) *Classifier {
	return &Classifier{
		thresholds: Thresholds{
			VeryLow:       cfg.VeryLow,
			Low:           cfg.Low,
			High:          cfg.High,
			VeryHigh:      cfg.VeryHigh,
			ObsoleteAfter: cfg.ObsoleteAfter,
		},
		repeat: cfg.RepeatInterval,
	}
}

// Thresholds returns the configured limits
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify returns the alarm type of r at time now
func (c *Classifier) Classify(r *models.GlucoseReading, now time.Time) AlarmType {
	if r == nil {
		return None
	}
	if c.IsObsolete(r, now) {
		return Obsolete
	}

	th := c.thresholds
	switch {
	case r.Value <= th.VeryLow:
		return VeryLow
	case r.Value <= th.Low:
		return Low
	case r.Value >= th.VeryHigh:
		return VeryHigh
	case r.Value >= th.High:
		return High
	}
	return None
}

// IsObsolete reports whether r is older than the freshness window
func (c *Classifier) IsObsolete(r *models.GlucoseReading, now time.Time) bool {
	return c.thresholds.ObsoleteAfter > 0 && r.Age(now) > c.thresholds.ObsoleteAfter
}

// ShouldForce decides whether next must raise a notification given the
// previous classification and the time of the last raised alarm. Changing
// into an alarm type always forces; staying in the same type forces again
// once the repeat interval has passed.
func (c *Classifier) ShouldForce(prev, next AlarmType, lastTrigger, now time.Time) bool {
	if !next.IsAlarm() {
		return false
	}
	if prev != next || lastTrigger.IsZero() {
		return true
	}
	return c.repeat > 0 && now.Sub(lastTrigger) >= c.repeat
}
