package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return conn, nil
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher delivers outbox entries to NATS. The subject is the prefix
// followed by the event type without its version suffix, e.g.
// "clinicdesk.conversation.urgent".
type NATSPublisher struct {
	conn   msgPublisher
	prefix string
}

func NewNATSPublisher(conn msgPublisher, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.Trim(strings.TrimSpace(prefix), ".")}
}

func (p *NATSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	if p.conn == nil {
		return errors.New("events: nats connection not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(entry.Type))
	msg.Data = entry.Payload
	msg.Header.Set(nats.MsgIdHdr, entry.ID.String())
	msg.Header.Set("Event-Type", entry.Type)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subject maps an event type to its NATS subject.
func (p *NATSPublisher) Subject(eventType string) string {
	name, _ := splitEventType(eventType)
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

var _ DeliveryHandler = (*NATSPublisher)(nil)
