package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"musiguess/internal/domain"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "musiguess.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher sends room lifecycle events to subjects of the form <prefix>.<event type>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("musiguess"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.GameEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := newMessage(p.prefix, event)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("drain NATS connection")
		p.nc.Close()
	}
}

func newMessage(prefix string, event domain.GameEvent) (*nats.Msg, error) {
	eventID := uuid.NewString()
	env := map[string]interface{}{
		"eventId":   eventID,
		"eventType": event.Type,
		"roomId":    event.RoomID,
		"timestamp": event.At.UTC(),
		"payload":   event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", prefix, event.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Room-ID":    []string{event.RoomID},
			"Event-ID":   []string{eventID},
		},
	}, nil
}
