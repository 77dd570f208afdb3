package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"school-service/common/metrics"

	"github.com/IBM/sarama"
)

type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.MessagingMetrics
}

func NewProducer(brokers []string, topic string, logger *slog.Logger, m *metrics.MessagingMetrics) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, err
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic", topic)

	return NewProducerWithClient(producer, topic, logger, m), nil
}

// NewProducerWithClient wraps an existing sarama producer (sarama/mocks in tests).
func NewProducerWithClient(producer sarama.SyncProducer, topic string, logger *slog.Logger, m *metrics.MessagingMetrics) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  m,
	}
}

func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "school-service"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	// Keeps all events of one school on one partition.
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

func (p *Producer) SendMessage(ctx context.Context, key string, value any) error {
	start := time.Now()
	err := p.send(ctx, key, value)
	p.metrics.RecordPublish(ctx, "kafka", p.topic, time.Since(start), err)
	return err
}

func (p *Producer) send(ctx context.Context, key string, value any) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal message", "error", err)
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(valueBytes),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to send message to kafka", "error", err)
		return err
	}

	p.logger.InfoContext(ctx, "message sent to kafka", "topic", p.topic, "partition", partition, "offset", offset, "key", key)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
