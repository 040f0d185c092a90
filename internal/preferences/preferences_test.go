package preferences

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
)

type memBackend struct {
	saved  map[string]string
	failOn string
}

func (m *memBackend) GetPreferences(_ context.Context, namespace string) ([]*models.Preference, error) {
	var out []*models.Preference
	for k, v := range m.saved {
		out = append(out, &models.Preference{Namespace: namespace, Key: k, Value: v})
	}
	return out, nil
}

func (m *memBackend) SetPreference(_ context.Context, p *models.Preference) error {
	if p.Key == m.failOn {
		return errors.New("disk full")
	}
	m.saved[p.Key] = p.Value
	return nil
}

func TestLoadAndGet(t *testing.T) {
	backend := &memBackend{saved: map[string]string{
		KeyAlarmNotificationEnabled: "true",
		"alarm_low_custom_sound":    "content://ring/1",
	}}
	s := NewStore(backend)

	var reloads int
	s.Register(func(_ context.Context, key string) {
		if key == "" {
			reloads++
		}
	})

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 1, reloads)
	assert.True(t, s.GetBool(KeyAlarmNotificationEnabled, false))
	assert.False(t, s.GetBool(KeyAlarmForceSound, false))
	assert.True(t, s.GetBool(KeyAlarmForceSound, true))
	assert.Equal(t, "content://ring/1", s.GetString("alarm_low_custom_sound", ""))
	assert.Equal(t, []string{"alarm_low_custom_sound", KeyAlarmNotificationEnabled}, s.Keys())
}

func TestSetBoolNotifiesOnlyOnChange(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	var keys []string
	unregister := s.Register(func(_ context.Context, key string) { keys = append(keys, key) })

	require.NoError(t, s.SetBool(ctx, KeyAlarmForceSound, true))
	require.NoError(t, s.SetBool(ctx, KeyAlarmForceSound, true))
	assert.Equal(t, []string{KeyAlarmForceSound}, keys)

	unregister()
	require.NoError(t, s.SetBool(ctx, KeyAlarmForceSound, false))
	assert.Len(t, keys, 1)
}

func TestNotificationAndVibrationAreExclusive(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	var keys []string
	s.Register(func(_ context.Context, key string) { keys = append(keys, key) })

	require.NoError(t, s.SetBool(ctx, KeyNotificationVibrate, true))
	require.NoError(t, s.SetBool(ctx, KeyAlarmNotificationEnabled, true))

	assert.True(t, s.GetBool(KeyAlarmNotificationEnabled, false))
	assert.False(t, s.GetBool(KeyNotificationVibrate, true))
	assert.Equal(t, []string{KeyNotificationVibrate, KeyAlarmNotificationEnabled, KeyNotificationVibrate}, keys)

	require.NoError(t, s.SetBool(ctx, KeyNotificationVibrate, true))
	assert.False(t, s.GetBool(KeyAlarmNotificationEnabled, true))
}

func TestSetRollsBackOnBackendError(t *testing.T) {
	backend := &memBackend{saved: map[string]string{}, failOn: KeyAlarmForceSound}
	s := NewStore(backend)

	err := s.SetBool(context.Background(), KeyAlarmForceSound, true)
	require.Error(t, err)
	_, ok := s.All()[KeyAlarmForceSound]
	assert.False(t, ok)
}

func TestSetEmptyKey(t *testing.T) {
	assert.Error(t, NewStore(nil).SetString(context.Background(), "", "x"))
}
