// Package relay fans live proctoring events out to observers. Delivery
// is fire-and-forget, at most once; scoring never depends on it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/proctor/internal/session"
	"github.com/your-org/proctor/pkg/kafka"
)

// Broadcaster is the live-observation boundary.
type Broadcaster interface {
	// Broadcast publishes freshly recorded events for a session.
	// Failures are the implementation's problem to report; callers do
	// not treat them as request errors.
	Broadcast(ctx context.Context, sessionID string, events []session.Event)
}

// Message is the wire form of one relayed event.
type Message struct {
	SessionID string        `json:"session_id"`
	Event     session.Event `json:"event"`
	RelayedAt time.Time     `json:"relayed_at"`
}

// Kafka publishes one message per event, keyed by session id so each
// session forms an ordered partition stream. Observers subscribe with
// their own consumer group; joining is a consumer-side concern.
type Kafka struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewKafka constructs a Kafka-backed broadcaster.
func NewKafka(producer *kafka.Producer, logger *zap.Logger) *Kafka {
	return &Kafka{producer: producer, logger: logger}
}

func (k *Kafka) Broadcast(ctx context.Context, sessionID string, events []session.Event) {
	for _, ev := range events {
		payload, err := json.Marshal(Message{
			SessionID: sessionID,
			Event:     ev,
			RelayedAt: time.Now().UTC(),
		})
		if err != nil {
			k.logger.Warn("marshal relay message", zap.Error(err), zap.String("session_id", sessionID))
			continue
		}

		headers := map[string]string{
			"session_id": sessionID,
			"event_type": string(ev.Type),
		}
		if err := k.producer.Publish(ctx, []byte(sessionID), payload, headers); err != nil {
			k.logger.Warn("relay publish failed",
				zap.Error(fmt.Errorf("publish proctor event: %w", err)),
				zap.String("session_id", sessionID),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}
}

// Noop discards all broadcasts, for tests and single-process setups.
type Noop struct{}

func (Noop) Broadcast(context.Context, string, []session.Event) {}
