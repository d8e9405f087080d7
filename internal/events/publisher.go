package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harrylevesque/equipscan/internal/utils"
)

// Publisher delivers domain events (scan outcomes, loan changes).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Envelope is what goes on the wire.
type Envelope struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NATSPublisher publishes JSON envelopes to <prefix>.<topic>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials url and returns a publisher owning the connection.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = utils.OrDefault(logger)
	conn, err := nats.Connect(url,
		nats.Name("equipscan"),
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
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(conn, prefix, logger), nil
}

func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.Trim(prefix, "."), logger: utils.OrDefault(logger)}
}

// Subject returns the full subject for topic.
func (p *NATSPublisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", topic, err)
	}
	if err := p.conn.Publish(p.Subject(topic), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(topic), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", "error", err)
		p.conn.Close()
	}
}

// Topics published by equipscan.
const (
	TopicScanFound    = "scan.found"
	TopicScanNotFound = "scan.not_found"
	TopicScanTimedOut = "scan.timed_out"
	TopicLoanBorrowed = "loan.borrowed"
	TopicLoanReturned = "loan.returned"
	TopicLoanOverdue  = "loan.overdue"

	TopicEquipmentStatus = "equipment.status"
)
