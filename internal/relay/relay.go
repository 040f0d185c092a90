// File: internal/relay/relay.go
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

const (
	// Capability advertised by wearables that accept glucose data
	Capability = "glucodata_intent"
	// MessagePath identifies glucose data messages
	MessagePath = "/glucodata_intent"
	// SettingsPath identifies preference updates
	SettingsPath = "/settings"

	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Discovery finds the endpoints that are reachable right now
type Discovery interface {
	Reachable(ctx context.Context, capability string) ([]models.Endpoint, error)
}

// Sender delivers a payload to a single endpoint
type Sender interface {
	Send(ctx context.Context, endpoint models.Endpoint, path string, payload []byte) error
}

// Transport is a discovery mechanism together with its sender
type Transport interface {
	Discovery
	Sender
	Name() string
}

// EndpointRecorder remembers endpoints that were seen during a lookup
type EndpointRecorder interface {
	UpsertEndpoint(ctx context.Context, endpoint *models.Endpoint) error
}

// Result is the outcome of one delivery attempt
type Result struct {
	Endpoint models.Endpoint `json:"endpoint"`
	Err      error           `json:"-"`
	Duration time.Duration   `json:"duration"`
}

// Summary describes one fan-out. It is only used for logging and stats.
type Summary struct {
	Endpoints int      `json:"endpoints"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	LookupErr error    `json:"-"`
	Results   []Result `json:"-"`
}

// Stats accumulates relay counters
type Stats struct {
	Relays       uint64     `json:"relays"`
	LookupErrors uint64     `json:"lookup_errors"`
	Sent         uint64     `json:"sent"`
	Failed       uint64     `json:"failed"`
	LastRelayAt  *time.Time `json:"last_relay_at,omitempty"`
}

// Options wires optional collaborators
type Options struct {
	Metrics  *metrics.PrometheusMetrics
	Registry *notifier.Registry
	Recorder EndpointRecorder
	Logger   *logrus.Logger
}

// Relay forwards payloads to every reachable wearable endpoint. Each
// endpoint is attempted independently; failures are logged and never
// reported back to the caller.
type Relay struct {
	discovery Discovery
	sender    Sender
	cfg       config.RelayConfig
	metrics   *metrics.PrometheusMetrics
	registry  *notifier.Registry
	recorder  EndpointRecorder
	logger    *logrus.Entry

	wg sync.WaitGroup

	relays       atomic.Uint64
	lookupErrors atomic.Uint64
	sent         atomic.Uint64
	failed       atomic.Uint64
	lastRelayAt  atomic.Pointer[time.Time]
}

// New creates a relay
func New(discovery Discovery, sender Sender, cfg config.RelayConfig, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	if cfg.Capability == "" {
		cfg.Capability = Capability
	}
	if cfg.Path == "" {
		cfg.Path = MessagePath
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	return &Relay{
		discovery: discovery,
		sender:    sender,
		cfg:       cfg,
		metrics:   opts.Metrics,
		registry:  opts.Registry,
		recorder:  opts.Recorder,
		logger:    logger.WithField("component", "relay"),
	}
}

// Relay starts a fan-out of payload in the background and returns at once.
// Cancelling ctx does not stop sends that are already running.
func (r *Relay) Relay(ctx context.Context, payload []byte) {
	r.background(ctx, r.cfg.Path, payload)
}

// OnNotify forwards preference changes to the wearables
func (r *Relay) OnNotify(ctx context.Context, evt notifier.Event) {
	if evt.Source != notifier.SourceSettings {
		return
	}
	payload, err := json.Marshal(evt.Extras)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to encode settings")
		return
	}
	r.background(ctx, SettingsPath, payload)
}

func (r *Relay) background(ctx context.Context, path string, payload []byte) {
	data := append([]byte(nil), payload...)
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fanOut(bg, path, data)
	}()
}

// Wait blocks until background fan-outs have finished. Used on shutdown.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// RelaySync performs the fan-out inline
func (r *Relay) RelaySync(ctx context.Context, payload []byte) Summary {
	return r.fanOut(ctx, r.cfg.Path, payload)
}

func (r *Relay) fanOut(ctx context.Context, path string, payload []byte) Summary {
	var summary Summary
	now := time.Now()
	r.relays.Add(1)
	r.lastRelayAt.Store(&now)

	lookupCtx, cancel := r.withTimeout(ctx, r.cfg.LookupTimeout)
	endpoints, err := r.discovery.Reachable(lookupCtx, r.cfg.Capability)
	cancel()
	if err != nil {
		r.lookupErrors.Add(1)
		summary.LookupErr = err
		r.logger.WithError(err).Warn("Endpoint lookup failed")
		return summary
	}

	summary.Endpoints = len(endpoints)
	if r.metrics != nil {
		r.metrics.UpdateRelayEndpoints(len(endpoints))
	}
	if len(endpoints) == 0 {
		r.logger.Debug("No reachable endpoints")
		return summary
	}
	r.recordEndpoints(ctx, endpoints)

	results := make([]Result, len(endpoints))
	p := pool.New().WithMaxGoroutines(r.cfg.MaxConcurrent)
	for i, ep := range endpoints {
		p.Go(func() {
			results[i] = r.send(ctx, ep, path, payload)
		})
	}
	p.Wait()

	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
		} else {
			summary.Sent++
		}
	}
	summary.Results = results
	r.sent.Add(uint64(summary.Sent))
	r.failed.Add(uint64(summary.Failed))

	r.logger.WithFields(logrus.Fields{
		"endpoints": summary.Endpoints,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
		"path":      path,
		"bytes":     len(payload),
	}).Info("Relay finished")

	if r.registry != nil {
		r.registry.Notify(ctx, notifier.Event{
			Source: notifier.SourceRelay,
			Extras: map[string]interface{}{
				"endpoints": summary.Endpoints,
				"sent":      summary.Sent,
				"failed":    summary.Failed,
			},
		})
	}
	return summary
}

// send delivers to one endpoint. A panicking sender only fails its own
// endpoint.
func (r *Relay) send(ctx context.Context, ep models.Endpoint, path string, payload []byte) (res Result) {
	res.Endpoint = ep
	start := time.Now()
	log := r.logger.WithFields(logrus.Fields{
		"endpoint":  ep.ID,
		"name":      ep.Name,
		"transport": ep.Transport,
	})

	defer func() {
		if rec := recover(); rec != nil {
			res.Err = utils.NewAppError(utils.ErrCodeRelay, "Sender panicked", fmt.Sprint(rec)).WithStackTrace()
		}
		res.Duration = time.Since(start)
		if r.metrics != nil {
			r.metrics.RecordRelaySend(ep.Transport, res.Err, res.Duration)
		}
		if res.Err != nil {
			log.WithError(res.Err).Warn("Failed to send glucose data")
		} else {
			log.WithField("duration", res.Duration).Debug("Glucose data sent")
		}
	}()

	sendCtx, cancel := r.withTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	res.Err = r.sender.Send(sendCtx, ep, path, payload)
	return res
}

func (r *Relay) recordEndpoints(ctx context.Context, endpoints []models.Endpoint) {
	if r.recorder == nil {
		return
	}
	now := time.Now()
	for _, ep := range endpoints {
		if ep.LastSeen.IsZero() {
			ep.LastSeen = now
		}
		if err := r.recorder.UpsertEndpoint(ctx, &ep); err != nil {
			r.logger.WithError(err).WithField("endpoint", ep.ID).Debug("Failed to record endpoint")
		}
	}
}

func (r *Relay) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// GetStats returns relay counters
func (r *Relay) GetStats() Stats {
	return Stats{
		Relays:       r.relays.Load(),
		LookupErrors: r.lookupErrors.Load(),
		Sent:         r.sent.Load(),
		Failed:       r.failed.Load(),
		LastRelayAt:  r.lastRelayAt.Load(),
	}
}

// Reachable exposes the current endpoint lookup
func (r *Relay) Reachable(ctx context.Context) ([]models.Endpoint, error) {
	lookupCtx, cancel := r.withTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	return r.discovery.Reachable(lookupCtx, r.cfg.Capability)
}
