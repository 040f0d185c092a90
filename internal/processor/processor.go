// File: internal/processor/processor.go
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// DefaultAction is the only broadcast action that is accepted
const DefaultAction = "glucodata.Minute"

// ErrUnexpectedAction is returned for broadcasts carrying another action
var ErrUnexpectedAction = errors.New("unexpected broadcast action")

// Processor defines the broadcast processor interface
type Processor interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	HandleBroadcast(ctx context.Context, action string, payload []byte) (*ProcessResult, error)

	GetStats() *ProcessorStats
	GetHealth() *ProcessorHealth
}

// ReadingStore is the storage the processor writes to
type ReadingStore interface {
	SaveReading(ctx context.Context, reading *models.GlucoseReading) error
	ReadingExists(ctx context.Context, id string) (bool, error)
	GetLatestReading(ctx context.Context) (*models.GlucoseReading, error)
}

// Relayer forwards accepted payloads to wearables without waiting
type Relayer interface {
	Relay(ctx context.Context, payload []byte)
}

// BroadcastProcessor accepts glucose broadcasts, stores them, raises alarm
// triggers and relays the raw payload.
type BroadcastProcessor struct {
	store      ReadingStore
	relayer    Relayer
	registry   *notifier.Registry
	classifier *alarm.Classifier
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Entry

	config config.ReceiverConfig
	maxGap time.Duration
	now    func() time.Time

	transformer *PayloadTransformer
	validator   *ReadingValidator
	aggregator  *ReadingAggregator
	receiver    notifier.Receiver

	claimMu  sync.Mutex
	inflight map[string]struct{}

	mu            sync.RWMutex
	running       bool
	prevAlarm     alarm.AlarmType
	lastTriggerAt time.Time

	stats *ProcessorStats
}

// Options wires the processor collaborators. Store, Relayer and Metrics are
// optional.
type Options struct {
	Store      ReadingStore
	Relayer    Relayer
	Registry   *notifier.Registry
	Classifier *alarm.Classifier
	Metrics    *metrics.PrometheusMetrics
	Logger     *logrus.Logger
	Now        func() time.Time
}

// ProcessResult describes what happened to one broadcast
type ProcessResult struct {
	ReadingID      string                 `json:"reading_id,omitempty"`
	Reading        *models.GlucoseReading `json:"reading,omitempty"`
	Duplicate      bool                   `json:"duplicate"`
	Stored         bool                   `json:"stored"`
	Alarm          string                 `json:"alarm"`
	AlarmTriggered bool                   `json:"alarm_triggered"`
	Relayed        bool                   `json:"relayed"`
	ProcessingTime time.Duration          `json:"processing_time"`
}

// ProcessorStats provides processor statistics
type ProcessorStats struct {
	StartTime         time.Time          `json:"start_time"`
	Uptime            time.Duration      `json:"uptime"`
	IsRunning         bool               `json:"is_running"`
	Received          uint64             `json:"received"`
	Dropped           uint64             `json:"dropped"`
	Invalid           uint64             `json:"invalid"`
	Duplicates        uint64             `json:"duplicates"`
	Stored            uint64             `json:"stored"`
	StoreErrors       uint64             `json:"store_errors"`
	AlarmsTriggered   uint64             `json:"alarms_triggered"`
	Relayed           uint64             `json:"relayed"`
	RelayFanouts      uint64             `json:"relay_fanouts"`
	RelayEndpointsHit uint64             `json:"relay_endpoints_sent"`
	RelayEndpointsErr uint64             `json:"relay_endpoints_failed"`
	CurrentAlarm      string             `json:"current_alarm"`
	LastReadingAt     *time.Time         `json:"last_reading_at,omitempty"`
	LastError         *string            `json:"last_error,omitempty"`
	LastErrorTime     *time.Time         `json:"last_error_time,omitempty"`
	Sensors           []AggregationGroup `json:"sensors,omitempty"`
}

// ProcessorHealth provides processor health information
type ProcessorHealth struct {
	Healthy bool     `json:"healthy"`
	Running bool     `json:"running"`
	Issues  []string `json:"issues,omitempty"`
}

// NewBroadcastProcessor creates a processor
func NewBroadcastProcessor(cfg config.ReceiverConfig, alarmCfg config.AlarmConfig, opts Options) *BroadcastProcessor {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Action == "" {
		cfg.Action = DefaultAction
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = alarm.NewClassifier(alarmCfg)
	}
	registry := opts.Registry
	if registry == nil {
		registry = notifier.NewRegistry()
	}

	p := &BroadcastProcessor{
		store:       opts.Store,
		relayer:     opts.Relayer,
		registry:    registry,
		classifier:  classifier,
		metrics:     opts.Metrics,
		logger:      logger.WithField("component", "processor"),
		config:      cfg,
		maxGap:      alarmCfg.ObsoleteAfter,
		now:         now,
		transformer: NewPayloadTransformer(),
		validator:   NewReadingValidator(),
		aggregator:  NewReadingAggregator(time.Hour),
		inflight:    make(map[string]struct{}),
		stats:       &ProcessorStats{StartTime: now()},
	}
	p.transformer.now = now
	p.validator.now = now
	p.receiver = notifier.Func(p.onNotify)
	return p
}

// Start seeds the delta history from storage and starts listening for relay
// results and obsolete data
func (p *BroadcastProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Processor already running", "")
	}

	if p.store != nil {
		latest, err := p.store.GetLatestReading(ctx)
		switch {
		case err == nil:
			p.aggregator.Seed(latest)
		case !utils.HasCode(err, utils.ErrCodeNotFound):
			p.logger.WithError(err).Warn("Failed to load latest reading")
		}
	}

	p.registry.Add(p.receiver, notifier.SourceRelay, notifier.SourceObsolete)
	p.running = true
	p.stats.StartTime = p.now()
	p.stats.IsRunning = true

	p.logger.WithField("action", p.config.Action).Info("Broadcast processor started")
	return nil
}

// Stop stops the processor
func (p *BroadcastProcessor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.registry.Remove(p.receiver)
	p.running = false
	p.stats.IsRunning = false

	p.logger.Info("Broadcast processor stopped")
	return nil
}

// IsRunning returns whether the processor is running
func (p *BroadcastProcessor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Action returns the accepted broadcast action
func (p *BroadcastProcessor) Action() string {
	return p.config.Action
}

// MaxPayload returns the largest accepted payload in bytes, zero when
// unlimited
func (p *BroadcastProcessor) MaxPayload() int64 {
	return p.config.MaxPayload
}

// HandleBroadcast runs one broadcast through the pipeline. Only action,
// decoding and validation problems are returned; storage and relay problems
// are logged.
func (p *BroadcastProcessor) HandleBroadcast(ctx context.Context, action string, payload []byte) (result *ProcessResult, err error) {
	start := p.now()
	defer func() {
		if rec := recover(); rec != nil {
			err = utils.NewAppError(utils.ErrCodeInternal, "Receive exception", fmt.Sprint(rec))
			p.recordError(err)
			p.logger.WithField("panic", rec).Error("Broadcast handling panicked")
			result = nil
		}
	}()

	p.incr(func(s *ProcessorStats) { s.Received++ })

	if action != p.config.Action {
		p.incr(func(s *ProcessorStats) { s.Dropped++ })
		p.recordBroadcast("dropped")
		p.logger.WithFields(logrus.Fields{"action": action, "expected": p.config.Action}).Warn("Dropping broadcast with unexpected action")
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedAction, action)
	}

	if p.config.MaxPayload > 0 && int64(len(payload)) > p.config.MaxPayload {
		return nil, p.invalid(utils.NewAppError(utils.ErrCodeValidation, "Payload too large",
			fmt.Sprintf("%d > %d bytes", len(payload), p.config.MaxPayload)))
	}

	reading, err := p.transformer.Transform(payload)
	if err != nil {
		return nil, p.invalid(err)
	}
	if err := p.validator.ValidateReading(reading); err != nil {
		return nil, p.invalid(err)
	}

	result = &ProcessResult{ReadingID: reading.ID, Reading: reading}

	claimed := p.claim(reading.ID)
	if claimed {
		defer p.release(reading.ID)
	}
	if !claimed || p.isDuplicate(ctx, reading) {
		p.incr(func(s *ProcessorStats) { s.Duplicates++ })
		p.recordBroadcast("duplicate")
		p.logger.WithFields(logrus.Fields{"sensor": reading.SensorSerial, "time": reading.Time}).Debug("Ignoring already known reading")
		result.Duplicate = true
		result.ProcessingTime = p.now().Sub(start)
		return result, nil
	}

	if reading.Delta == nil {
		reading.Delta = p.aggregator.Delta(reading, p.maxGap)
	}

	now := p.now()
	t := p.classifier.Classify(reading, now)
	reading.Alarm = t.String()
	result.Alarm = reading.Alarm

	if p.store != nil {
		if err := p.store.SaveReading(ctx, reading); err != nil {
			p.recordError(err)
			p.incr(func(s *ProcessorStats) { s.StoreErrors++ })
			p.logger.WithError(err).WithField("reading_id", reading.ID).Error("Failed to store reading")
		} else {
			result.Stored = true
			p.incr(func(s *ProcessorStats) { s.Stored++ })
		}
	}
	p.aggregator.Add(reading)

	p.registry.Notify(ctx, notifier.Event{Source: notifier.SourceBroadcast, Reading: reading, Alarm: reading.Alarm})

	if p.updateAlarmState(t, now) {
		result.AlarmTriggered = true
		p.incr(func(s *ProcessorStats) { s.AlarmsTriggered++ })
		p.logger.WithFields(logrus.Fields{"alarm": t.String(), "value": reading.Value}).Info("Alarm triggered")
		p.registry.Notify(ctx, notifier.Event{Source: notifier.SourceAlarmTrigger, Reading: reading, Alarm: t.String()})
	}

	if p.relayer != nil {
		p.relayer.Relay(ctx, payload)
		result.Relayed = true
		p.incr(func(s *ProcessorStats) { s.Relayed++ })
	}

	result.ProcessingTime = p.now().Sub(start)
	p.incr(func(s *ProcessorStats) {
		at := reading.Time
		s.LastReadingAt = &at
		s.CurrentAlarm = reading.Alarm
	})
	p.recordBroadcast("accepted")
	if p.metrics != nil {
		p.metrics.RecordReading(reading.Value, reading.Time, result.ProcessingTime)
	}

	p.logger.WithFields(logrus.Fields{
		"reading_id": reading.ID,
		"sensor":     reading.SensorSerial,
		"value":      reading.Value,
		"alarm":      reading.Alarm,
	}).Debug("Broadcast processed")

	return result, nil
}

// claim marks reading id as in flight. It fails while another broadcast of
// the same reading is still being handled.
func (p *BroadcastProcessor) claim(id string) bool {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *BroadcastProcessor) release(id string) {
	p.claimMu.Lock()
	delete(p.inflight, id)
	p.claimMu.Unlock()
}

func (p *BroadcastProcessor) isDuplicate(ctx context.Context, r *models.GlucoseReading) bool {
	if !p.aggregator.IsNewer(r) {
		return true
	}
	if p.store == nil {
		return false
	}
	exists, err := p.store.ReadingExists(ctx, r.ID)
	if err != nil {
		p.logger.WithError(err).Warn("Duplicate check failed")
		return false
	}
	return exists
}

// updateAlarmState remembers the classification and reports whether it has
// to be raised now
func (p *BroadcastProcessor) updateAlarmState(t alarm.AlarmType, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	force := p.classifier.ShouldForce(p.prevAlarm, t, p.lastTriggerAt, now)
	p.prevAlarm = t
	if force {
		p.lastTriggerAt = now
	}
	return force
}

// ResetAlarmState forgets the previous classification so the next alarm
// reading is raised again
func (p *BroadcastProcessor) ResetAlarmState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prevAlarm = alarm.None
	p.lastTriggerAt = time.Time{}
}

func (p *BroadcastProcessor) invalid(err error) error {
	p.incr(func(s *ProcessorStats) { s.Invalid++ })
	p.recordError(err)
	p.recordBroadcast("invalid")
	p.logger.WithError(err).Warn("Rejecting broadcast")
	return err
}

func (p *BroadcastProcessor) onNotify(ctx context.Context, evt notifier.Event) {
	switch evt.Source {
	case notifier.SourceRelay:
		sent, _ := evt.Extras["sent"].(int)
		failed, _ := evt.Extras["failed"].(int)
		p.incr(func(s *ProcessorStats) {
			s.RelayFanouts++
			s.RelayEndpointsHit += uint64(sent)
			s.RelayEndpointsErr += uint64(failed)
		})
	case notifier.SourceObsolete:
		// an alarm reading after the gap must be raised again
		p.ResetAlarmState()
		p.incr(func(s *ProcessorStats) { s.CurrentAlarm = alarm.Obsolete.String() })
	}
}

func (p *BroadcastProcessor) recordBroadcast(status string) {
	if p.metrics != nil {
		p.metrics.RecordBroadcast(status)
	}
}
