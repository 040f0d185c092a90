// File: internal/monitor/poller.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// ReadingSource returns the newest stored reading, nil when there is none
type ReadingSource interface {
	GetLatestReading(ctx context.Context) (*models.GlucoseReading, error)
}

// ReadingPoller fetches the latest reading and keeps poll counters
type ReadingPoller struct {
	source ReadingSource
	logger *logrus.Entry

	mu           sync.RWMutex
	lastPollTime time.Time
	pollCount    uint64
	errorCount   uint64
}

// NewReadingPoller creates a new reading poller
func NewReadingPoller(source ReadingSource) *ReadingPoller {
	return &ReadingPoller{
		source: source,
		logger: utils.GetLogger().WithField("component", "reading_poller"),
	}
}

// GetLatestReading polls the source
func (rp *ReadingPoller) GetLatestReading(ctx context.Context) (*models.GlucoseReading, error) {
	rp.mu.Lock()
	rp.pollCount++
	rp.lastPollTime = time.Now()
	rp.mu.Unlock()

	r, err := rp.source.GetLatestReading(ctx)
	if err != nil {
		rp.recordError()
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get latest reading", err)
	}
	return r, nil
}

// GetStats returns poller statistics
func (rp *ReadingPoller) GetStats() map[string]interface{} {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	return map[string]interface{}{
		"poll_count":     rp.pollCount,
		"error_count":    rp.errorCount,
		"last_poll_time": rp.lastPollTime,
	}
}

func (rp *ReadingPoller) recordError() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.errorCount++
}
