package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/models"
)

func testClassifier() *Classifier {
	return NewClassifier(config.AlarmConfig{
		VeryLow: 55, Low: 70, High: 250, VeryHigh: 300,
		ObsoleteAfter:  10 * time.Minute,
		RepeatInterval: 15 * time.Minute,
	})
}

func TestClassify(t *testing.T) {
	c := testClassifier()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value float64
		age   time.Duration
		want  AlarmType
	}{
		{40, 0, VeryLow},
		{55, 0, VeryLow},
		{56, 0, Low},
		{70, 0, Low},
		{120, 0, None},
		{249, 0, None},
		{250, 0, High},
		{300, 0, VeryHigh},
		{120, 11 * time.Minute, Obsolete},
		{40, 11 * time.Minute, Obsolete},
		{120, 10 * time.Minute, None},
	}
	for _, tt := range tests {
		r := &models.GlucoseReading{Value: tt.value, Time: now.Add(-tt.age)}
		assert.Equal(t, tt.want, c.Classify(r, now), "value=%v age=%v", tt.value, tt.age)
	}

	assert.Equal(t, None, c.Classify(nil, now))
}

func TestShouldForce(t *testing.T) {
	c := testClassifier()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.ShouldForce(None, Low, time.Time{}, now))
	assert.True(t, c.ShouldForce(Low, VeryLow, now.Add(-time.Minute), now))
	assert.False(t, c.ShouldForce(Low, Low, now.Add(-time.Minute), now))
	assert.True(t, c.ShouldForce(Low, Low, now.Add(-15*time.Minute), now))
	assert.False(t, c.ShouldForce(Low, None, time.Time{}, now))
	assert.False(t, c.ShouldForce(None, Obsolete, time.Time{}, now))
}
