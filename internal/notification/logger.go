// File: internal/notification/logger.go
package notification

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	logger  *logrus.Logger
	context map[string]interface{}
}

// NewNotificationLogger creates a new notification logger on the global logger
func NewNotificationLogger() *NotificationLogger {
	return NewNotificationLoggerWith(utils.GetLogger())
}

// NewNotificationLoggerWith creates a notification logger on l
func NewNotificationLoggerWith(l *logrus.Logger) *NotificationLogger {
	return &NotificationLogger{
		logger:  l,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context to the logger
func (nl *NotificationLogger) WithContext(context map[string]interface{}) *NotificationLogger {
	newLogger := &NotificationLogger{
		logger:  nl.logger,
		context: make(map[string]interface{}, len(nl.context)+len(context)),
	}

	for k, v := range nl.context {
		newLogger.context[k] = v
	}
	for k, v := range context {
		newLogger.context[k] = v
	}

	return newLogger
}

// WithField adds a single field to the logger context
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return nl.WithContext(map[string]interface{}{key: value})
}

// Debug logs a debug message
func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.log(logrus.DebugLevel, message, context...)
}

// Info logs an info message
func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.log(logrus.InfoLevel, message, context...)
}

// Warn logs a warning message
func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.log(logrus.WarnLevel, message, context...)
}

// Error logs an error message
func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.log(logrus.ErrorLevel, message, context...)
}

func (nl *NotificationLogger) log(level logrus.Level, message string, context ...map[string]interface{}) {
	merged := make(logrus.Fields, len(nl.context)+1)
	for k, v := range nl.context {
		merged[k] = v
	}
	for _, ctx := range context {
		for k, v := range ctx {
			merged[k] = v
		}
	}
	if _, ok := merged["component"]; !ok {
		merged["component"] = "notification"
	}

	nl.logger.WithFields(merged).Log(level, message)
}

// LogPoster "shows" notifications by writing them to the log. It is the
// default poster when no device bridge is configured.
type LogPoster struct {
	logger *NotificationLogger
}

// NewLogPoster creates a log poster
func NewLogPoster(logger *NotificationLogger) *LogPoster {
	if logger == nil {
		logger = NewNotificationLogger()
	}
	return &LogPoster{logger: logger.WithField("poster", "log")}
}

// Name implements Poster
func (p *LogPoster) Name() string { return "log" }

// Post implements Poster
func (p *LogPoster) Post(_ context.Context, n *Notification) error {
	p.logger.Warn(n.Title, map[string]interface{}{
		"notification_id": n.ID,
		"alarm_type":      n.AlarmType,
		"channel_id":      n.ChannelID,
		"text":            n.Text,
		"sound":           n.Sound,
		"bypass_dnd":      n.BypassDnd,
		"force_sound":     n.ForceSound,
		"for_test":        n.ForTest,
	})
	return nil
}

// Cancel implements Poster
func (p *LogPoster) Cancel(_ context.Context, id int) error {
	p.logger.Info("Notification cancelled", map[string]interface{}{"notification_id": id})
	return nil
}
