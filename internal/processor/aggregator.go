// File: internal/processor/aggregator.go
package processor

import (
	"math"
	"sync"
	"time"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

// ReadingAggregator keeps a short per-sensor history. It answers whether a
// reading is newer than what was already seen, derives the delta and
// summarises the window.
type ReadingAggregator struct {
	window time.Duration
	mu     sync.RWMutex
	groups map[string]*AggregationGroup
}

// AggregationGroup is the recent history of one sensor
type AggregationGroup struct {
	Sensor   string                   `json:"sensor"`
	Readings []*models.GlucoseReading `json:"-"`
	Count    int                      `json:"count"`
	First    time.Time                `json:"first"`
	Last     time.Time                `json:"last"`
	Min      float64                  `json:"min"`
	Max      float64                  `json:"max"`
	Average  float64                  `json:"average"`
}

// NewReadingAggregator creates an aggregator keeping window worth of readings
func NewReadingAggregator(window time.Duration) *ReadingAggregator {
	if window <= 0 {
		window = time.Hour
	}
	return &ReadingAggregator{
		window: window,
		groups: make(map[string]*AggregationGroup),
	}
}

// Last returns the newest reading of sensor
func (ra *ReadingAggregator) Last(sensor string) *models.GlucoseReading {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	g, ok := ra.groups[sensor]
	if !ok || len(g.Readings) == 0 {
		return nil
	}
	return g.Readings[len(g.Readings)-1]
}

// IsNewer reports whether r is newer than every reading seen for its sensor
func (ra *ReadingAggregator) IsNewer(r *models.GlucoseReading) bool {
	last := ra.Last(r.SensorSerial)
	return last == nil || r.Time.After(last.Time)
}

// Seed primes the history with a reading loaded from storage
func (ra *ReadingAggregator) Seed(r *models.GlucoseReading) {
	if r == nil || ra.Last(r.SensorSerial) != nil {
		return
	}
	ra.Add(r)
}

// Delta returns the change per minute against the previous reading of the
// same sensor. Gaps longer than maxGap give no delta.
func (ra *ReadingAggregator) Delta(r *models.GlucoseReading, maxGap time.Duration) *float64 {
	prev := ra.Last(r.SensorSerial)
	if prev == nil || !r.Time.After(prev.Time) {
		return nil
	}
	gap := r.Time.Sub(prev.Time)
	if maxGap > 0 && gap > maxGap {
		return nil
	}

	d := r.Value - prev.Value
	if gap > time.Minute {
		d = d / gap.Minutes()
	}
	d = math.Round(d*10) / 10
	return &d
}

// Add records r and drops readings that fell out of the window
func (ra *ReadingAggregator) Add(r *models.GlucoseReading) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	g, ok := ra.groups[r.SensorSerial]
	if !ok {
		g = &AggregationGroup{Sensor: r.SensorSerial}
		ra.groups[r.SensorSerial] = g
	}
	g.Readings = append(g.Readings, r)

	cutoff := r.Time.Add(-ra.window)
	keep := g.Readings[:0]
	for _, x := range g.Readings {
		if !x.Time.Before(cutoff) {
			keep = append(keep, x)
		}
	}
	g.Readings = keep
	ra.summarise(g)
}

func (ra *ReadingAggregator) summarise(g *AggregationGroup) {
	g.Count = len(g.Readings)
	if g.Count == 0 {
		return
	}
	g.First = g.Readings[0].Time
	g.Last = g.Readings[g.Count-1].Time
	g.Min, g.Max = math.Inf(1), math.Inf(-1)

	var sum float64
	for _, x := range g.Readings {
		sum += x.Value
		g.Min = math.Min(g.Min, x.Value)
		g.Max = math.Max(g.Max, x.Value)
	}
	g.Average = math.Round(sum/float64(g.Count)*10) / 10
}

// Summaries returns a copy of every sensor summary
func (ra *ReadingAggregator) Summaries() []AggregationGroup {
	ra.mu.RLock()
	defer ra.mu.RUnlock()

	out := make([]AggregationGroup, 0, len(ra.groups))
	for _, g := range ra.groups {
		c := *g
		c.Readings = nil
		out = append(out, c)
	}
	return out
}
