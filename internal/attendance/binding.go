package attendance

import (
	"github.com/sirupsen/logrus"
)

// EventBinder registers a handler for a named realtime event.
type EventBinder interface {
	Bind(event string, fn func(data []byte))
}

// BindRoster feeds event payloads received through binder into m.
// Payloads that do not decode are logged and dropped.
func BindRoster(binder EventBinder, event string, m *Manager) {
	binder.Bind(event, func(data []byte) {
		msg, err := DecodeMessage(data)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"event": event,
				"error": err,
			}).Warn("Dropping malformed attendance event")
			return
		}
		if err := m.HandleRealtimeMessage(msg); err != nil {
			m.logger.WithError(err).Debug("Attendance event arrived after session stopped")
		}
	})
}
