package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

// Writer publishes canonical feeds to a Kafka topic.
// It implements aggregator.FeedPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the feed topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishFeed serializes and publishes one canonical feed. The disaster type
// is the message key, so consumers see each type's feeds in order.
func (w *Writer) PublishFeed(ctx context.Context, feed domain.CanonicalFeed) error {
	msg, err := serializeFeed(feed)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeFeed marshals a CanonicalFeed into a Kafka message.
func serializeFeed(feed domain.CanonicalFeed) (kafkago.Message, error) {
	data, err := json.Marshal(feed)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize canonical feed: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(feed.DisasterType),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "generated_at", Value: []byte(feed.GeneratedAt.Format(time.RFC3339))},
			{Key: "event_count", Value: []byte(strconv.Itoa(len(feed.Events)))},
		},
	}, nil
}
