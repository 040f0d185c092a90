package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

func TestAggregatorWindow(t *testing.T) {
	ra := NewReadingAggregator(30 * time.Minute)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 120, 140, 160} {
		ra.Add(&models.GlucoseReading{SensorSerial: "a", Value: v, Time: at.Add(time.Duration(i) * 15 * time.Minute)})
	}
	ra.Add(&models.GlucoseReading{SensorSerial: "b", Value: 90, Time: at})

	summaries := ra.Summaries()
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		if s.Sensor != "a" {
			continue
		}
		assert.Equal(t, 3, s.Count)
		assert.Equal(t, 120.0, s.Min)
		assert.Equal(t, 160.0, s.Max)
		assert.Equal(t, 140.0, s.Average)
		assert.Nil(t, s.Readings)
	}

	assert.Equal(t, 160.0, ra.Last("a").Value)
	assert.Nil(t, ra.Last("missing"))
}

func TestAggregatorIsNewerAndSeed(t *testing.T) {
	ra := NewReadingAggregator(0)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := &models.GlucoseReading{SensorSerial: "a", Value: 100, Time: at}

	assert.True(t, ra.IsNewer(r))
	ra.Seed(r)
	assert.False(t, ra.IsNewer(r))

	ra.Seed(&models.GlucoseReading{SensorSerial: "a", Value: 1, Time: at.Add(-time.Hour)})
	assert.Equal(t, 100.0, ra.Last("a").Value, "seed does not override live history")
}

func TestAggregatorDelta(t *testing.T) {
	ra := NewReadingAggregator(time.Hour)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ra.Add(&models.GlucoseReading{SensorSerial: "a", Value: 100, Time: at})

	d := ra.Delta(&models.GlucoseReading{SensorSerial: "a", Value: 97, Time: at.Add(time.Minute)}, 0)
	require.NotNil(t, d)
	assert.Equal(t, -3.0, *d)

	d = ra.Delta(&models.GlucoseReading{SensorSerial: "a", Value: 106, Time: at.Add(3 * time.Minute)}, 0)
	require.NotNil(t, d)
	assert.Equal(t, 2.0, *d)

	assert.Nil(t, ra.Delta(&models.GlucoseReading{SensorSerial: "a", Value: 106, Time: at}, 0))
	assert.Nil(t, ra.Delta(&models.GlucoseReading{SensorSerial: "b", Value: 106, Time: at}, 0))
}
