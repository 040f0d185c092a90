// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/internal/preferences"
	"github.com/smartdevs17/glucodata-handler/internal/processor"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// HeaderBroadcastAction carries the broadcast action on HTTP intake
const HeaderBroadcastAction = "X-Broadcast-Action"

// defaultBroadcastBody caps intake bodies when the receiver sets no limit
const defaultBroadcastBody = 1 << 20

// Broadcast intake

func (s *HTTPServer) broadcastHandler(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		s.unavailable(w, "processor")
		return
	}

	action := r.Header.Get(HeaderBroadcastAction)
	if action == "" {
		action = r.URL.Query().Get("action")
	}
	if action == "" {
		action = s.processor.Action()
	}

	limit := s.processor.MaxPayload()
	if limit <= 0 {
		limit = defaultBroadcastBody
	}
	// one byte over the limit lets the processor report the size
	payload, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	if int64(len(payload)) > limit && s.processor.MaxPayload() <= 0 {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Broadcast too large",
			fmt.Errorf("body exceeds %d bytes", limit))
		return
	}

	result, err := s.processor.HandleBroadcast(r.Context(), action, payload)
	switch {
	case errors.Is(err, processor.ErrUnexpectedAction):
		s.writeError(w, http.StatusBadRequest, "Broadcast dropped", err)
		return
	case utils.HasCode(err, utils.ErrCodeValidation):
		s.writeError(w, http.StatusBadRequest, "Invalid glucose data", err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "Failed to process broadcast", err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	s.writeJSON(w, status, result)
}

// Readings

func (s *HTTPServer) listReadingsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.unavailable(w, "storage")
		return
	}

	q := r.URL.Query()
	filter := models.ReadingFilter{Limit: 100}

	if v := q.Get("sensor"); v != "" {
		filter.SensorSerial = &v
	}
	if v := q.Get("alarm"); v != "" {
		t, err := alarm.ParseAlarmType(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid alarm type", err)
			return
		}
		name := t.String()
		filter.Alarm = &name
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid from parameter", err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid to parameter", err)
		return
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), filter.Limit); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), 0); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid offset parameter", err)
		return
	}

	readings, err := s.storage.GetReadings(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve readings", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"count":    len(readings),
		"filter":   filter,
	})
}

func (s *HTTPServer) latestReadingHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.unavailable(w, "storage")
		return
	}

	reading, err := s.storage.GetLatestReading(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve latest reading", err)
		return
	}
	if reading == nil {
		s.writeError(w, http.StatusNotFound, "No readings stored", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *HTTPServer) getReadingHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.unavailable(w, "storage")
		return
	}

	id := mux.Vars(r)["id"]
	reading, err := s.storage.GetReading(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve reading", err)
		return
	}
	if reading == nil {
		s.writeError(w, http.StatusNotFound, "Reading not found", fmt.Errorf("id %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

// Alarm notifications

func (s *HTTPServer) alarmStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) alarmEnabledHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "Body must be {\"enabled\": bool}", err)
		return
	}

	// The preference listener forwards the change to the dispatcher.
	if s.preferences != nil {
		if err := s.preferences.SetBool(r.Context(), preferences.KeyAlarmNotificationEnabled, *body.Enabled); err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to store preference", err)
			return
		}
	} else {
		s.dispatcher.SetEnabled(r.Context(), *body.Enabled)
	}

	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) alarmTestHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}

	t, err := alarm.ParseAlarmType(mux.Vars(r)["type"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid alarm type", err)
		return
	}
	mapping, ok := alarm.Resolve(t)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Alarm type has no notification", fmt.Errorf("type %s", t))
		return
	}

	s.dispatcher.Trigger(r.Context(), t, true)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"alarm_type":   t.String(),
		"notification": mapping,
		"status":       s.dispatcher.Status(),
	})
}

func (s *HTTPServer) alarmStopHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}
	s.dispatcher.StopCurrent(r.Context())
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) alarmStopAllHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}
	s.dispatcher.StopAll(r.Context())
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) snoozeHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}

	var req alarm.SnoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid snooze request", err)
		return
	}

	if err := s.dispatcher.Snooze(r.Context(), req); err != nil {
		if utils.HasCode(err, utils.ErrCodeValidation) {
			s.writeError(w, http.StatusBadRequest, "Invalid snooze request", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to snooze", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) clearSnoozeHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.unavailable(w, "alarm dispatcher")
		return
	}
	s.dispatcher.ClearSnooze()
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

func (s *HTTPServer) alarmMappingHandler(w http.ResponseWriter, r *http.Request) {
	mappings := make(map[string]alarm.NotificationMapping)
	for _, t := range alarm.MappedTypes() {
		m, _ := alarm.Resolve(t)
		mappings[t.String()] = m
	}

	resp := map[string]interface{}{"mappings": mappings}
	if s.dispatcher != nil {
		resp["snooze_options"] = s.dispatcher.SnoozeOptions()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) alarmHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.unavailable(w, "storage")
		return
	}

	q := r.URL.Query()
	filter := models.AlarmHistoryFilter{Limit: 100}
	if v := q.Get("type"); v != "" {
		t, err := alarm.ParseAlarmType(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid alarm type", err)
			return
		}
		name := t.String()
		filter.AlarmType = &name
	}
	if v := q.Get("action"); v != "" {
		action := models.AlarmAction(strings.ToLower(v))
		filter.Action = &action
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid since parameter", err)
		return
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), filter.Limit); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
		return
	}

	records, err := s.storage.GetAlarmHistory(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve alarm history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *HTTPServer) activeNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if s.notification == nil {
		s.unavailable(w, "notification manager")
		return
	}
	active := s.notification.Active()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": active,
		"count":         len(active),
	})
}

// Preferences

func (s *HTTPServer) listPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	if s.preferences == nil {
		s.unavailable(w, "preferences")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace":   preferences.Namespace,
		"preferences": s.preferences.All(),
	})
}

func (s *HTTPServer) setPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	if s.preferences == nil {
		s.unavailable(w, "preferences")
		return
	}

	key := mux.Vars(r)["key"]
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Value) == 0 {
		s.writeError(w, http.StatusBadRequest, "Body must be {\"value\": ...}", err)
		return
	}

	var err error
	if isBoolKey(key) {
		var v bool
		if err = json.Unmarshal(body.Value, &v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Preference expects a boolean", err)
			return
		}
		err = s.preferences.SetBool(r.Context(), key, v)
	} else {
		var v string
		if err = json.Unmarshal(body.Value, &v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Preference expects a string", err)
			return
		}
		err = s.preferences.SetString(r.Context(), key, v)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to store preference", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace":   preferences.Namespace,
		"preferences": s.preferences.All(),
	})
}

func isBoolKey(key string) bool {
	switch key {
	case preferences.KeyAlarmNotificationEnabled,
		preferences.KeyAlarmForceSound,
		preferences.KeyNotificationVibrate:
		return true
	}
	return strings.HasSuffix(key, preferences.SuffixUseCustomSound)
}

// Wearables

func (s *HTTPServer) endpointsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reachable") == "true" {
		if s.relay == nil {
			s.unavailable(w, "relay")
			return
		}
		endpoints, err := s.relay.Reachable(r.Context())
		if err != nil {
			s.writeError(w, http.StatusBadGateway, "Endpoint lookup failed", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"endpoints": endpoints,
			"count":     len(endpoints),
			"reachable": true,
		})
		return
	}

	if s.storage == nil {
		s.unavailable(w, "storage")
		return
	}
	since, err := parseTimeParam(r.URL.Query().Get("since"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid since parameter", err)
		return
	}
	endpoints, err := s.storage.GetEndpoints(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve endpoints", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": endpoints,
		"count":     len(endpoints),
		"reachable": false,
	})
}

// Monitor

func (s *HTTPServer) monitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.unavailable(w, "monitor")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  s.monitor.GetStats(),
		"health": s.monitor.GetHealth(),
	})
}

func (s *HTTPServer) monitorCheckHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.unavailable(w, "monitor")
		return
	}
	result, err := s.monitor.CheckStaleness(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Staleness check failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative: %d", n)
	}
	return n, nil
}
