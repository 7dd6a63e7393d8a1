package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "crm.events."

// natsConn is the part of *nats.Conn the relay uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSRelay shares events between server processes over NATS. Events that
// originated on this hub are ignored on the way back in.
type NATSRelay struct {
	nc     natsConn
	hub    *Hub
	sub    *nats.Subscription
	logger zerolog.Logger
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("crm-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

func NewNATSRelay(nc natsConn, hub *Hub, logger zerolog.Logger) *NATSRelay {
	return &NATSRelay{nc: nc, hub: hub, logger: logger.With().Str("component", "nats-relay").Logger()}
}

// Start subscribes to remote events and registers the relay on the hub.
func (r *NATSRelay) Start() error {
	sub, err := r.nc.Subscribe(subjectPrefix+">", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s>: %w", subjectPrefix, err)
	}
	r.sub = sub
	r.hub.AddRelay(r)
	return nil
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
		return
	}
	if ev.Origin == r.hub.InstanceID() {
		return
	}
	if ev.Topic == "" {
		ev.Topic = strings.TrimPrefix(msg.Subject, subjectPrefix)
	}
	r.hub.Deliver(ev)
}

// Forward publishes a local event to NATS.
func (r *NATSRelay) Forward(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.nc.Publish(subjectPrefix+ev.Topic, data)
}

// Close stops receiving remote events.
func (r *NATSRelay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
