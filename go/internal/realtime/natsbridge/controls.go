package natsbridge

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Control subject suffixes.
const (
	ControlOnline             = "online"
	ControlConfig             = "config"
	ControlPreserveDisconnect = "preserve-disconnect"
)

// Controls are the connector operations the host drives through NATS.
// *session.Connector satisfies it.
type Controls interface {
	NetworkOnline()
	ConfigReady(endpoint string)
	PreserveNextDisconnect()
}

// ConfigNotice is the body of a config control message.
type ConfigNotice struct {
	Endpoint string `json:"endpoint"`
}

// HandleControls subscribes to the control subjects. Callbacks are posted to
// the dispatcher, never run on the NATS goroutine.
func (b *Bridge) HandleControls(sub Subscriber, ctrl Controls) error {
	handlers := map[string]func(*nats.Msg){
		ControlOnline: func(*nats.Msg) {
			b.dispatch.Post(ctrl.NetworkOnline)
		},
		ControlConfig: func(msg *nats.Msg) {
			var notice ConfigNotice
			if err := json.Unmarshal(msg.Data, &notice); err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed config notice")
				return
			}
			b.dispatch.Post(func() { ctrl.ConfigReady(notice.Endpoint) })
		},
		ControlPreserveDisconnect: func(*nats.Msg) {
			b.dispatch.Post(ctrl.PreserveNextDisconnect)
		},
	}

	for _, name := range []string{ControlOnline, ControlConfig, ControlPreserveDisconnect} {
		subject := b.ControlSubject(name)
		handle := handlers[name]
		s, err := sub.Subscribe(subject, func(msg *nats.Msg) {
			log.Debug().Str("subject", msg.Subject).Msg("control notification")
			handle(msg)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, s)
	}

	log.Info().Str("prefix", b.cfg.SubjectPrefix).Msg("listening for control notifications")
	return nil
}
