package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	msgsvc "tradeup/internal/app/services/messaging"
	"tradeup/internal/infra/obs"
)

// ChatEvents publishes chat lifecycle events to a single topic, keyed by
// conversation id so all events for one thread land on the same partition in
// order.
type ChatEvents struct {
	producer sarama.SyncProducer
	topic    string
}

func NewChatEvents(brokers []string, topicPrefix string, cfg *sarama.Config) (*ChatEvents, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &ChatEvents{producer: producer, topic: topicPrefix + "chat.events"}, nil
}

// producerConfig enables idempotent acks-all publishing. Idempotence requires a
// single in-flight request per connection, which sarama validates at startup.
func producerConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func (e *ChatEvents) Publish(ctx context.Context, event msgsvc.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(event.Type)},
	}
	if id := obs.RequestIDFromContext(ctx); id != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("request_id"), Value: []byte(id)})
	}
	msg := &sarama.ProducerMessage{
		Topic:   e.topic,
		Key:     sarama.StringEncoder(event.ConversationID),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}
	_, _, err = e.producer.SendMessage(msg)
	return err
}

func (e *ChatEvents) Close() error {
	if e.producer == nil {
		return nil
	}
	return e.producer.Close()
}

var _ msgsvc.EventSink = (*ChatEvents)(nil)
