package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"hirehub/internal/infra/broker/kafka"
	"hirehub/internal/messaging"
)

const originHeader = "origin-instance"

// Fanout bridges persisted messages between gateway instances over
// Kafka. Each instance publishes what it persists and replays what the
// others publish into its local rooms.
type Fanout struct {
	Producer   *kafka.Producer
	Topic      string
	InstanceID string
	Service    *Service
	Logger     *slog.Logger
}

// PublishMessage implements Publisher.
func (f *Fanout) PublishMessage(ctx context.Context, wm messaging.WireMessage) error {
	payload, err := json.Marshal(wm)
	if err != nil {
		return err
	}
	return f.Producer.Publish(ctx, f.Topic, wm.ConversationID, payload, map[string]string{
		originHeader: f.InstanceID,
	})
}

// Handle implements kafka.MessageHandler: remote messages are replayed
// into the local hub, own messages are skipped.
func (f *Fanout) Handle(_ context.Context, msg *sarama.ConsumerMessage) error {
	for _, header := range msg.Headers {
		if string(header.Key) == originHeader && string(header.Value) == f.InstanceID {
			return nil
		}
	}
	var wm messaging.WireMessage
	if err := json.Unmarshal(msg.Value, &wm); err != nil {
		f.Logger.Warn("dropping undecodable fan-out record", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	f.Service.DeliverRemote(wm)
	return nil
}

var _ kafka.MessageHandler = (*Fanout)(nil)
