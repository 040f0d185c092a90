// File: internal/processor/helpers.go
package processor

import (
	"time"
)

// incr applies fn to the statistics under the lock
func (p *BroadcastProcessor) incr(fn func(s *ProcessorStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.stats)
}

// recordError remembers the last error for the stats endpoint
func (p *BroadcastProcessor) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := err.Error()
	now := p.now()
	p.stats.LastError = &msg
	p.stats.LastErrorTime = &now
}

// GetStats returns a snapshot of the processor statistics
func (p *BroadcastProcessor) GetStats() *ProcessorStats {
	p.mu.RLock()
	stats := *p.stats
	p.mu.RUnlock()

	if stats.IsRunning {
		stats.Uptime = p.now().Sub(stats.StartTime)
	}
	stats.Sensors = p.aggregator.Summaries()
	return &stats
}

// GetHealth returns processor health information
func (p *BroadcastProcessor) GetHealth() *ProcessorHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	health := &ProcessorHealth{
		Healthy: true,
		Running: p.running,
		Issues:  []string{},
	}

	if !p.running {
		health.Healthy = false
		health.Issues = append(health.Issues, "Processor is not running")
	}

	if p.stats.Received > 10 {
		rejected := p.stats.Invalid + p.stats.Dropped
		if float64(rejected)/float64(p.stats.Received) > 0.5 {
			health.Healthy = false
			health.Issues = append(health.Issues, "More than half of the broadcasts were rejected")
		}
	}

	if p.stats.LastReadingAt != nil && p.maxGap > 0 && p.now().Sub(*p.stats.LastReadingAt) > p.maxGap {
		health.Issues = append(health.Issues, "Latest reading is obsolete since "+p.stats.LastReadingAt.Format(time.RFC3339))
	}

	return health
}
