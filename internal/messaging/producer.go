package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"school-service/common/metrics"

	"github.com/nats-io/nats.go"
)

// KeyHeader carries the message key (the school id) on every published event.
const KeyHeader = "School-Key"

type Producer struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
	metrics *metrics.MessagingMetrics
}

func NewProducer(url string, subject string, logger *slog.Logger, m *metrics.MessagingMetrics) (*Producer, error) {
	nc, err := nats.Connect(url,
		nats.Name("school-service"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("NATS producer initialized", "url", url, "subject", subject)

	return &Producer{
		conn:    nc,
		subject: subject,
		logger:  logger,
		metrics: m,
	}, nil
}

func (p *Producer) SendMessage(ctx context.Context, key string, value any) error {
	start := time.Now()
	err := p.publish(ctx, key, value)
	p.metrics.RecordPublish(ctx, "nats", p.subject, time.Since(start), err)
	return err
}

func (p *Producer) publish(ctx context.Context, key string, value any) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal message", "error", err)
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Header.Set(KeyHeader, key)
	msg.Data = valueBytes

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to send message to NATS", "error", err)
		return err
	}

	p.logger.InfoContext(ctx, "message sent to NATS", "subject", p.subject, "key", key)
	return nil
}

// Close flushes pending messages before closing the connection.
func (p *Producer) Close() error {
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		p.logger.Warn("failed to flush NATS connection", "error", err)
	}
	p.conn.Close()
	return nil
}
