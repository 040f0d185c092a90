// Package notifier is the in-process event registry that replaces platform
// broadcast receivers: components subscribe to typed sources and are called
// synchronously when an event for that source is dispatched.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Source identifies the kind of event being dispatched
type Source int

const (
	SourceBroadcast Source = iota
	SourceAlarmTrigger
	SourceObsolete
	SourceNotificationStopped
	SourceSettings
	SourceRelay
)

func (s Source) String() string {
	switch s {
	case SourceBroadcast:
		return "BROADCAST"
	case SourceAlarmTrigger:
		return "ALARM_TRIGGER"
	case SourceObsolete:
		return "OBSOLETE"
	case SourceNotificationStopped:
		return "NOTIFICATION_STOPPED"
	case SourceSettings:
		return "SETTINGS"
	case SourceRelay:
		return "RELAY"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Event is the payload handed to receivers
type Event struct {
	Source  Source
	Reading *models.GlucoseReading
	Alarm   string
	Extras  map[string]interface{}
}

// Receiver is implemented by anything that wants to be notified
type Receiver interface {
	OnNotify(ctx context.Context, evt Event)
}

type funcReceiver struct {
	fn func(ctx context.Context, evt Event)
}

func (f *funcReceiver) OnNotify(ctx context.Context, evt Event) { f.fn(ctx, evt) }

// Func adapts a function to the Receiver interface. Each call returns a
// distinct receiver that can later be passed to Remove.
func Func(fn func(ctx context.Context, evt Event)) Receiver {
	return &funcReceiver{fn: fn}
}

type subscription struct {
	receiver Receiver
	sources  map[Source]struct{}
}

// Registry keeps receivers and their subscribed sources
type Registry struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *logrus.Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		logger: utils.GetLogger().WithField("component", "notifier"),
	}
}

// Add subscribes r to the given sources. Adding an already registered
// receiver replaces its source set.
func (r *Registry) Add(recv Receiver, sources ...Source) {
	set := make(map[Source]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.receiver == recv {
			sub.sources = set
			return
		}
	}
	r.subs = append(r.subs, &subscription{receiver: recv, sources: set})
	r.logger.WithField("sources", sources).Debug("Receiver added")
}

// Remove unsubscribes r from every source
func (r *Registry) Remove(recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.receiver == recv {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			r.logger.Debug("Receiver removed")
			return
		}
	}
}

// HasReceivers reports whether anyone listens to src
func (r *Registry) HasReceivers(src Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		if _, ok := sub.sources[src]; ok {
			return true
		}
	}
	return false
}

// Count returns the number of registered receivers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify dispatches evt to every receiver subscribed to evt.Source and
// returns how many were called. Receivers run on the caller's goroutine in
// registration order; the lock is not held while they run so a receiver may
// add or remove subscriptions.
func (r *Registry) Notify(ctx context.Context, evt Event) int {
	r.mu.RLock()
	targets := make([]Receiver, 0, len(r.subs))
	for _, sub := range r.subs {
		if _, ok := sub.sources[evt.Source]; ok {
			targets = append(targets, sub.receiver)
		}
	}
	r.mu.RUnlock()

	for _, recv := range targets {
		r.dispatch(ctx, recv, evt)
	}
	return len(targets)
}

func (r *Registry) dispatch(ctx context.Context, recv Receiver, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"source": evt.Source.String(),
				"panic":  rec,
			}).Error("Receiver panicked")
		}
	}()
	recv.OnNotify(ctx, evt)
}
