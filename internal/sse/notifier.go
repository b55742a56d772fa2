package sse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Notifier adapts the broker to the pairing session's event sink. Publish
// failures are logged, never propagated: a lost UI event must not disturb
// the session's timers.
type Notifier struct {
	broker *Broker
}

func NewNotifier(broker *Broker) *Notifier {
	return &Notifier{broker: broker}
}

func (n *Notifier) Notify(instanceID, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal pairing event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, instanceID, Event{Type: eventType, Data: payload}); err != nil {
		log.Warn().Err(err).
			Str("instance", instanceID).
			Str("type", eventType).
			Msg("failed to publish pairing event")
	}
}
