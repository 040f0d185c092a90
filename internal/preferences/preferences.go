// File: internal/preferences/preferences.go
package preferences

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Namespace is the fixed preference namespace all keys live in
const Namespace = "GluDataHandler"

const (
	KeyAlarmNotificationEnabled = "alarm_notification_enabled"
	KeyAlarmForceSound          = "alarm_force_sound"
	KeyNotificationVibrate      = "notification_vibrate"

	// Per alarm type keys are the type prefix followed by one of these
	SuffixUseCustomSound = "use_custom_sound"
	SuffixCustomSound    = "custom_sound"
)

// Backend persists preference values
type Backend interface {
	GetPreferences(ctx context.Context, namespace string) ([]*models.Preference, error)
	SetPreference(ctx context.Context, pref *models.Preference) error
}

// Listener is called after a key changed. An empty key means every value
// was reloaded.
type Listener func(ctx context.Context, key string)

// Store is an in-memory view of the preference namespace with write-through
// to an optional backend.
type Store struct {
	backend Backend

	mu        sync.RWMutex
	values    map[string]string
	listeners map[int]Listener
	nextID    int

	logger *logrus.Entry
}

// NewStore creates a preference store. backend may be nil for a purely
// in-memory store.
func NewStore(backend Backend) *Store {
	return &Store{
		backend:   backend,
		values:    make(map[string]string),
		listeners: make(map[int]Listener),
		logger:    utils.GetLogger().WithField("component", "preferences"),
	}
}

// Load replaces the in-memory values with the persisted ones and notifies
// listeners with an empty key.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	prefs, err := s.backend.GetPreferences(ctx, Namespace)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to load preferences", err)
	}

	values := make(map[string]string, len(prefs))
	for _, p := range prefs {
		values[p.Key] = p.Value
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	s.logger.WithField("count", len(values)).Info("Preferences loaded")
	s.fire(ctx, "")
	return nil
}

// GetString returns the value of key or def when unset
func (s *Store) GetString(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// GetBool returns the boolean value of key or def when unset or unparsable
func (s *Store) GetBool(key string, def bool) bool {
	raw := s.GetString(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// SetString stores a value and notifies listeners when it changed
func (s *Store) SetString(ctx context.Context, key, value string) error {
	changed, err := s.set(ctx, key, value)
	if err != nil {
		return err
	}
	for _, k := range changed {
		s.fire(ctx, k)
	}
	return nil
}

// SetBool stores a boolean value. Turning on alarm notifications turns off
// plain vibration and the other way round.
func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	changed, err := s.set(ctx, key, strconv.FormatBool(value))
	if err != nil {
		return err
	}

	if value {
		var other string
		switch key {
		case KeyAlarmNotificationEnabled:
			other = KeyNotificationVibrate
		case KeyNotificationVibrate:
			other = KeyAlarmNotificationEnabled
		}
		if other != "" && s.GetBool(other, false) {
			more, err := s.set(ctx, other, strconv.FormatBool(false))
			if err != nil {
				return err
			}
			changed = append(changed, more...)
		}
	}

	for _, k := range changed {
		s.fire(ctx, k)
	}
	return nil
}

// All returns a copy of every stored value
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Register adds a change listener and returns a function removing it
func (s *Store) Register(fn func(ctx context.Context, key string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Publish emits a SETTINGS event on registry for every change. The event
// carries the changed key and a copy of all values.
func (s *Store) Publish(registry *notifier.Registry) func() {
	return s.Register(func(ctx context.Context, key string) {
		registry.Notify(ctx, notifier.Event{
			Source: notifier.SourceSettings,
			Extras: map[string]interface{}{
				"key":    key,
				"values": s.All(),
			},
		})
	})
}

func (s *Store) set(ctx context.Context, key, value string) ([]string, error) {
	if key == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Preference key is required", "")
	}

	s.mu.Lock()
	old, existed := s.values[key]
	if existed && old == value {
		s.mu.Unlock()
		return nil, nil
	}
	s.values[key] = value
	s.mu.Unlock()

	if s.backend != nil {
		err := s.backend.SetPreference(ctx, &models.Preference{Namespace: Namespace, Key: key, Value: value})
		if err != nil {
			s.mu.Lock()
			if existed {
				s.values[key] = old
			} else {
				delete(s.values, key)
			}
			s.mu.Unlock()
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to save preference", err)
		}
	}

	s.logger.WithFields(logrus.Fields{"key": key, "value": value}).Debug("Preference changed")
	return []string{key}, nil
}

func (s *Store) fire(ctx context.Context, key string) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, key)
	}
}
