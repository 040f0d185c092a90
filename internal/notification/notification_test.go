package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

type stubPoster struct {
	name      string
	postErr   error
	posted    []int
	cancelled []int
}

func (s *stubPoster) Name() string { return s.name }

func (s *stubPoster) Post(_ context.Context, n *Notification) error {
	s.posted = append(s.posted, n.ID)
	return s.postErr
}

func (s *stubPoster) Cancel(_ context.Context, id int) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}

func TestManagerFansOutAndTracksActive(t *testing.T) {
	a := &stubPoster{name: "a"}
	b := &stubPoster{name: "b"}
	m := NewManager(metrics.NewManager(), a, b)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	ctx := context.Background()
	require.NoError(t, m.Post(ctx, &Notification{ID: 803}))
	require.NoError(t, m.Post(ctx, &Notification{ID: 801}))

	assert.Equal(t, []int{803, 801}, a.posted)
	assert.Equal(t, []int{803, 801}, b.posted)

	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, 801, active[0].ID)

	require.NoError(t, m.Cancel(ctx, 803))
	assert.Len(t, m.Active(), 1)

	stats := m.GetStats()
	assert.Equal(t, uint64(2), stats.TotalPosted)
	assert.Equal(t, uint64(1), stats.TotalCancelled)
	assert.Equal(t, []string{"a", "b"}, stats.Posters)
	assert.True(t, m.GetHealth().Healthy)
}

func TestManagerAttemptsAllPostersOnFailure(t *testing.T) {
	failing := &stubPoster{name: "failing", postErr: errors.New("boom")}
	ok := &stubPoster{name: "ok"}
	m := NewManager(nil, failing, ok)

	err := m.Post(context.Background(), &Notification{ID: 802})
	require.Error(t, err)
	assert.Equal(t, []int{802}, ok.posted)
	require.Len(t, m.Active(), 1, "shown on the working poster")
	assert.Equal(t, 802, m.Active()[0].ID)

	stats := m.GetStats()
	assert.Equal(t, uint64(1), stats.TotalFailed)
	require.NotNil(t, stats.LastError)
	assert.Equal(t, "boom", *stats.LastError)
}

func TestManagerDropsNotificationNoPosterShowed(t *testing.T) {
	a := &stubPoster{name: "a", postErr: errors.New("down")}
	b := &stubPoster{name: "b", postErr: errors.New("down")}
	m := NewManager(nil, a, b)

	require.Error(t, m.Post(context.Background(), &Notification{ID: 801}))
	assert.Empty(t, m.Active())
	assert.Zero(t, m.GetStats().TotalPosted)
}

func TestManagerStartTwice(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	assert.False(t, m.IsHealthy())
}

func TestWebhookPosterSendsPayload(t *testing.T) {
	var got []WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var p WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got = append(got, p)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPoster(config.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Timeout: time.Second,
	}, NewNotificationLoggerWith(utils.NewTestLogger()))

	ctx := context.Background()
	require.NoError(t, p.Post(ctx, &Notification{ID: 804, AlarmType: "VERY_HIGH", Title: "Very high alarm"}))
	require.NoError(t, p.Cancel(ctx, 804))

	require.Len(t, got, 2)
	assert.Equal(t, webhookActionNotify, got[0].Action)
	require.NotNil(t, got[0].Notification)
	assert.Equal(t, "VERY_HIGH", got[0].Notification.AlarmType)
	assert.Equal(t, webhookActionCancel, got[1].Action)
	assert.Equal(t, 804, got[1].ID)
	assert.Nil(t, got[1].Notification)
}

func TestWebhookPosterRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPoster(config.WebhookConfig{
		URL:           srv.URL,
		Timeout:       time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, NewNotificationLoggerWith(utils.NewTestLogger()))

	require.NoError(t, p.Post(context.Background(), &Notification{ID: 801}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookPosterClientErrorIsNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewWebhookPoster(config.WebhookConfig{URL: srv.URL, Timeout: time.Second}, NewNotificationLoggerWith(utils.NewTestLogger()))

	err := p.Post(context.Background(), &Notification{ID: 801})
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotification))
}
