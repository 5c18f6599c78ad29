// Package natsbridge publishes realtime client events to NATS and feeds host
// notifications from NATS control subjects back into the connector.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
)

// Config holds NATS connection and subject settings
type Config struct {
	URL           string
	ClientName    string
	SubjectPrefix string // e.g., "plaza" gives "plaza.events.>" and "plaza.control.>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		ClientName:    "plaza-client",
		SubjectPrefix: "plaza",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect opens a NATS connection with logging handlers attached.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
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
	return nc, nil
}

// Publisher is the part of *nats.Conn used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the part of *nats.Conn used for control subjects.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Event is the JSON body published for every client event.
type Event struct {
	Name    string    `json:"name"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Bridge publishes events and dispatches control notifications.
type Bridge struct {
	cfg      Config
	pub      Publisher
	dispatch bus.Dispatcher
	clock    clockwork.Clock

	subs   []*nats.Subscription
	unsubs []func()

	published int
	failed    int
}

// New creates a bridge. A nil clock uses the real clock.
func New(cfg Config, pub Publisher, dispatch bus.Dispatcher, clock clockwork.Clock) *Bridge {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bridge{cfg: cfg, pub: pub, dispatch: dispatch, clock: clock}
}

// EventSubject returns the subject an event is published on. Colons in event
// names become subject tokens, so player:spawned maps to
// <prefix>.events.player.spawned.
func (b *Bridge) EventSubject(name string) string {
	return b.cfg.SubjectPrefix + ".events." + strings.ReplaceAll(name, ":", ".")
}

// ControlSubject returns the subject for a control notification.
func (b *Bridge) ControlSubject(name string) string {
	return b.cfg.SubjectPrefix + ".control." + name
}

// Publish sends one event. Failures are logged and counted, never returned to
// the emitting component.
func (b *Bridge) Publish(name string, payload any) {
	subject := b.EventSubject(name)
	data, err := json.Marshal(Event{Name: name, At: b.clock.Now().UTC(), Payload: payload})
	if err != nil {
		b.failed++
		log.Error().Err(err).Str("event", name).Msg("failed to marshal event")
		return
	}
	if err := b.pub.Publish(subject, data); err != nil {
		b.failed++
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
		return
	}
	b.published++
	log.Trace().Str("subject", subject).Int("size", len(data)).Msg("event published")
}

// Published returns how many events were handed to NATS.
func (b *Bridge) Published() int { return b.published }

// Failed returns how many events could not be published.
func (b *Bridge) Failed() int { return b.failed }

// Close removes event subscriptions and control subscriptions.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	for _, sub := range b.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("subject", sub.Subject).Msg("failed to unsubscribe")
		}
	}
	b.subs = nil
}
