package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notification"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/internal/preferences"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Journal persists the alarm notification history
type Journal interface {
	SaveAlarmRecord(ctx context.Context, rec *models.AlarmRecord) error
}

// WatchedPreferences is a preference store that reports changes
type WatchedPreferences interface {
	Preferences
	Register(fn func(ctx context.Context, key string)) func()
}

// SnoozeRequest asks to silence alarms for a number of minutes. A zero
// NotificationID refers to the current notification.
type SnoozeRequest struct {
	NotificationID int `json:"notification_id"`
	Minutes        int `json:"minutes"`
}

// Status is a snapshot of the dispatcher state
type Status struct {
	Enabled        bool       `json:"enabled"`
	CurrentID      int        `json:"current_notification_id,omitempty"`
	CurrentType    string     `json:"current_alarm_type,omitempty"`
	Snoozed        bool       `json:"snoozed"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`
	LastTriggerAt  *time.Time `json:"last_trigger_at,omitempty"`
	TotalTriggered uint64     `json:"total_triggered"`
	TotalFailed    uint64     `json:"total_failed"`
}

// DispatcherOptions wires the dispatcher collaborators. Only Poster is
// required.
type DispatcherOptions struct {
	Poster        notification.Poster
	Registry      *notifier.Registry
	Preferences   WatchedPreferences
	Journal       Journal
	Metrics       *metrics.PrometheusMetrics
	SnoozeOptions []int
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Dispatcher owns the alarm notification state: whether alarms are enabled,
// which notification is currently shown and whether alarms are snoozed.
// At most one notification id is current at any time.
type Dispatcher struct {
	poster   notification.Poster
	registry *notifier.Registry
	prefs    WatchedPreferences
	journal  Journal
	metrics  *metrics.PrometheusMetrics
	builder  *Builder
	snooze   []int
	now      func() time.Time
	logger   *logrus.Entry

	// io orders poster calls and is always taken before mu. mu is never
	// held across poster I/O.
	io sync.Mutex

	mu             sync.Mutex
	enabled        bool
	current        int
	currentType    AlarmType
	snoozedUntil   time.Time
	lastReading    *models.GlucoseReading
	lastTriggerAt  time.Time
	totalTriggered uint64
	totalFailed    uint64

	unregisterPrefs func()
}

// NewDispatcher creates a disabled dispatcher
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	snooze := opts.SnoozeOptions
	if len(snooze) == 0 {
		snooze = []int{60, 90, 120}
	}

	var prefs Preferences
	if opts.Preferences != nil {
		prefs = opts.Preferences
	}

	return &Dispatcher{
		poster:   opts.Poster,
		registry: opts.Registry,
		prefs:    opts.Preferences,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		builder:  NewBuilder(prefs, snooze),
		snooze:   append([]int(nil), snooze...),
		now:      now,
		logger:   logger.WithField("component", "alarm_dispatcher"),
	}
}

// Start reads the enabled preference and starts following preference
// changes.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.prefs == nil {
		return
	}
	d.mu.Lock()
	if d.unregisterPrefs == nil {
		d.unregisterPrefs = d.prefs.Register(d.OnPreferenceChanged)
	}
	d.mu.Unlock()

	d.SetEnabled(ctx, d.prefs.GetBool(preferences.KeyAlarmNotificationEnabled, false))
}

// Destroy cancels every alarm notification and detaches the dispatcher
func (d *Dispatcher) Destroy(ctx context.Context) {
	d.mu.Lock()
	unregister := d.unregisterPrefs
	d.unregisterPrefs = nil
	d.enabled = false
	d.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if d.registry != nil {
		d.registry.Remove(d)
	}
	d.StopAll(ctx)
	d.logger.Info("Alarm dispatcher destroyed")
}

// SetEnabled turns alarm notifications on or off. Enabling subscribes to
// alarm trigger events; disabling unsubscribes and cancels every alarm.
func (d *Dispatcher) SetEnabled(ctx context.Context, enabled bool) {
	d.mu.Lock()
	if d.enabled == enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = enabled
	snoozedUntil := d.snoozedUntil
	d.mu.Unlock()

	d.logger.WithField("enabled", enabled).Info("Alarm notifications toggled")
	if d.metrics != nil {
		d.metrics.UpdateAlarmState(enabled, snoozedUntil)
	}

	if enabled {
		if d.registry != nil {
			d.registry.Add(d, notifier.SourceAlarmTrigger, notifier.SourceObsolete)
		}
		return
	}

	if d.registry != nil {
		d.registry.Remove(d)
	}
	d.StopAll(ctx)
}

// IsEnabled reports whether non-test alarms are shown
func (d *Dispatcher) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Trigger shows the notification for t, replacing the current one. Test
// alarms are shown even when disabled or snoozed and never change the
// enabled state. Failures are logged only.
func (d *Dispatcher) Trigger(ctx context.Context, t AlarmType, forTest bool) {
	d.trigger(ctx, nil, t, forTest)
}

// TriggerReading remembers r for the notification text and triggers its
// alarm type.
func (d *Dispatcher) TriggerReading(ctx context.Context, r *models.GlucoseReading, t AlarmType) {
	d.trigger(ctx, r, t, false)
}

// triggerPlan is the poster work decided under mu
type triggerPlan struct {
	replaced *models.AlarmRecord
	posted   *models.AlarmRecord
	n        *notification.Notification
	at       time.Time
}

func (d *Dispatcher) trigger(ctx context.Context, r *models.GlucoseReading, t AlarmType, forTest bool) {
	log := d.logger.WithFields(logrus.Fields{"alarm_type": t.String(), "for_test": forTest})

	d.io.Lock()
	d.mu.Lock()
	if r != nil {
		d.lastReading = r
	}
	plan, ok := d.planTrigger(log, t, forTest)
	d.mu.Unlock()
	if !ok {
		d.io.Unlock()
		return
	}

	var records []*models.AlarmRecord
	if plan.replaced != nil {
		d.cancel(ctx, plan.replaced)
		records = append(records, plan.replaced)
	}
	err := d.call("post", func() error { return d.poster.Post(ctx, plan.n) })

	d.mu.Lock()
	if err != nil {
		d.totalFailed++
	} else {
		d.lastTriggerAt = plan.at
		d.totalTriggered++
	}
	d.mu.Unlock()
	d.io.Unlock()

	if err != nil {
		log.WithError(err).Error("Failed to post alarm notification")
		plan.posted.Action = models.AlarmActionFailed
		msg := err.Error()
		plan.posted.Error = &msg
	} else {
		if d.metrics != nil {
			d.metrics.RecordAlarmTriggered(t.String(), forTest)
		}
		log.WithField("notification_id", plan.n.ID).Info("Alarm notification posted")
	}
	d.record(ctx, append(records, plan.posted))
}

// planTrigger makes the notification for t current. The id becomes current
// before it is posted so a partially shown notification can still be
// cancelled.
func (d *Dispatcher) planTrigger(log *logrus.Entry, t AlarmType, forTest bool) (triggerPlan, bool) {
	if !d.enabled && !forTest {
		log.Debug("Alarm notifications disabled, ignoring trigger")
		d.suppressed(t, "disabled")
		return triggerPlan{}, false
	}

	now := d.now()
	if !forTest && now.Before(d.snoozedUntil) {
		log.WithField("snoozed_until", d.snoozedUntil).Info("Alarm snoozed, ignoring trigger")
		d.suppressed(t, "snoozed")
		return triggerPlan{}, false
	}

	mapping, ok := Resolve(t)
	if !ok {
		log.Warn("No notification mapping for alarm type")
		d.suppressed(t, "unmapped")
		return triggerPlan{}, false
	}

	plan := triggerPlan{at: now}
	if d.current != 0 && d.current != mapping.NotificationID {
		plan.replaced = d.newRecord(d.current, d.currentType, models.AlarmActionCancelled, false)
	}
	plan.n = d.builder.Build(t, mapping, d.lastReading, forTest)
	plan.posted = d.newRecord(mapping.NotificationID, t, models.AlarmActionPosted, forTest)

	d.current = mapping.NotificationID
	d.currentType = t
	return plan, true
}

// StopCurrent cancels the current notification if there is one
func (d *Dispatcher) StopCurrent(ctx context.Context) {
	d.io.Lock()
	d.mu.Lock()
	if d.current == 0 {
		d.mu.Unlock()
		d.io.Unlock()
		return
	}
	t := d.currentType
	rec := d.newRecord(d.current, t, models.AlarmActionCancelled, false)
	d.current = 0
	d.currentType = None
	d.mu.Unlock()

	d.cancel(ctx, rec)
	d.io.Unlock()

	d.record(ctx, []*models.AlarmRecord{rec})
	d.notifyStopped(ctx, t)
}

// StopAll cancels every mapped notification id regardless of which one is
// current.
func (d *Dispatcher) StopAll(ctx context.Context) {
	d.io.Lock()
	d.mu.Lock()
	current := d.currentType
	var all, records []*models.AlarmRecord
	for _, t := range MappedTypes() {
		m, _ := Resolve(t)
		rec := d.newRecord(m.NotificationID, t, models.AlarmActionCancelled, false)
		all = append(all, rec)
		if m.NotificationID == d.current {
			records = append(records, rec)
		}
	}
	d.current = 0
	d.currentType = None
	d.mu.Unlock()

	for _, rec := range all {
		d.cancel(ctx, rec)
	}
	d.io.Unlock()

	d.record(ctx, records)
	d.notifyStopped(ctx, current)
}

// Snooze cancels the referenced notification and suppresses non-test alarms
// for the requested number of minutes.
func (d *Dispatcher) Snooze(ctx context.Context, req SnoozeRequest) error {
	if !d.validSnooze(req.Minutes) {
		return utils.NewAppError(utils.ErrCodeValidation,
			fmt.Sprintf("Invalid snooze duration %d minutes", req.Minutes),
			fmt.Sprintf("allowed: %v", d.snooze))
	}

	d.io.Lock()
	d.mu.Lock()
	id := req.NotificationID
	if id == 0 {
		id = d.current
	}
	t, _ := TypeForNotificationID(id)

	var cancelled *models.AlarmRecord
	var records []*models.AlarmRecord
	if id != 0 {
		cancelled = d.newRecord(id, t, models.AlarmActionCancelled, false)
		records = append(records, d.newRecord(id, t, models.AlarmActionSnoozed, false))
		if id == d.current {
			d.current = 0
			d.currentType = None
		}
	}
	d.snoozedUntil = d.now().Add(time.Duration(req.Minutes) * time.Minute)
	until, enabled := d.snoozedUntil, d.enabled
	d.mu.Unlock()

	if cancelled != nil {
		d.cancel(ctx, cancelled)
	}
	d.io.Unlock()

	if d.metrics != nil {
		d.metrics.UpdateAlarmState(enabled, until)
	}
	d.logger.WithFields(logrus.Fields{
		"notification_id": id,
		"minutes":         req.Minutes,
		"snoozed_until":   until,
	}).Info("Alarms snoozed")

	d.record(ctx, records)
	return nil
}

// ClearSnooze ends an active snooze
func (d *Dispatcher) ClearSnooze() {
	d.mu.Lock()
	d.snoozedUntil = time.Time{}
	enabled := d.enabled
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.UpdateAlarmState(enabled, time.Time{})
	}
}

// SnoozedUntil returns the end of the active snooze, zero when not snoozed
func (d *Dispatcher) SnoozedUntil() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.now().Before(d.snoozedUntil) {
		return time.Time{}
	}
	return d.snoozedUntil
}

// SnoozeOptions returns the allowed snooze durations in minutes
func (d *Dispatcher) SnoozeOptions() []int {
	return append([]int(nil), d.snooze...)
}

// Status returns a snapshot of the dispatcher state
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Status{
		Enabled:        d.enabled,
		CurrentID:      d.current,
		TotalTriggered: d.totalTriggered,
		TotalFailed:    d.totalFailed,
	}
	if d.current != 0 {
		s.CurrentType = d.currentType.String()
	}
	if d.now().Before(d.snoozedUntil) {
		until := d.snoozedUntil
		s.Snoozed = true
		s.SnoozedUntil = &until
	}
	if !d.lastTriggerAt.IsZero() {
		at := d.lastTriggerAt
		s.LastTriggerAt = &at
	}
	return s
}

// OnNotify implements notifier.Receiver
func (d *Dispatcher) OnNotify(ctx context.Context, evt notifier.Event) {
	switch evt.Source {
	case notifier.SourceAlarmTrigger:
		t, err := ParseAlarmType(evt.Alarm)
		if err != nil {
			d.logger.WithError(err).Warn("Alarm trigger without valid alarm type")
			return
		}
		d.TriggerReading(ctx, evt.Reading, t)
	case notifier.SourceObsolete:
		d.StopCurrent(ctx)
	}
}

// OnPreferenceChanged follows the alarm enabled preference. An empty key
// means all preferences were reloaded.
func (d *Dispatcher) OnPreferenceChanged(ctx context.Context, key string) {
	if d.prefs == nil {
		return
	}
	if key == "" || key == preferences.KeyAlarmNotificationEnabled {
		d.SetEnabled(ctx, d.prefs.GetBool(preferences.KeyAlarmNotificationEnabled, d.IsEnabled()))
	}
}

// cancel removes rec's notification through the poster. Errors are logged
// and kept on rec.
func (d *Dispatcher) cancel(ctx context.Context, rec *models.AlarmRecord) {
	id := rec.NotificationID
	if err := d.call("cancel", func() error { return d.poster.Cancel(ctx, id) }); err != nil {
		d.logger.WithError(err).WithField("notification_id", id).Error("Failed to cancel alarm notification")
		msg := err.Error()
		rec.Error = &msg
	}
}

// call runs a poster operation, converting panics into errors
func (d *Dispatcher) call(op string, fn func() error) (err error) {
	if d.poster == nil {
		return utils.NewAppError(utils.ErrCodeNotification, "No notification poster configured", op)
	}
	defer func() {
		if r := recover(); r != nil {
			err = utils.NewAppError(utils.ErrCodeNotification, fmt.Sprintf("Poster %s panicked", op), fmt.Sprint(r))
		}
	}()
	return fn()
}

func (d *Dispatcher) newRecord(id int, t AlarmType, action models.AlarmAction, forTest bool) *models.AlarmRecord {
	rec := &models.AlarmRecord{
		ID:             utils.GenerateID(),
		NotificationID: id,
		AlarmType:      t.String(),
		Action:         action,
		ForTest:        forTest,
		CreatedAt:      d.now().UTC(),
	}
	if d.lastReading != nil {
		v := d.lastReading.Value
		rec.Glucose = &v
	}
	return rec
}

func (d *Dispatcher) record(ctx context.Context, records []*models.AlarmRecord) {
	if d.journal == nil {
		return
	}
	for _, rec := range records {
		if err := d.journal.SaveAlarmRecord(ctx, rec); err != nil {
			d.logger.WithError(err).Warn("Failed to save alarm history")
		}
	}
}

func (d *Dispatcher) suppressed(t AlarmType, reason string) {
	if d.metrics != nil {
		d.metrics.RecordAlarmSuppressed(t.String(), reason)
	}
}

func (d *Dispatcher) notifyStopped(ctx context.Context, t AlarmType) {
	if d.registry == nil {
		return
	}
	d.registry.Notify(ctx, notifier.Event{
		Source: notifier.SourceNotificationStopped,
		Alarm:  t.String(),
	})
}

func (d *Dispatcher) validSnooze(minutes int) bool {
	for _, m := range d.snooze {
		if m == minutes {
			return true
		}
	}
	return false
}
