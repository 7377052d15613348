// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "feed."

// subjectFor maps "post:<id>" to "feed.post.<id>".
func subjectFor(topic string) string {
	return subjectPrefix + strings.ReplaceAll(topic, ":", ".")
}

// NATSBroker publishes events on feed.* subjects so every server instance's
// hub sees every committed change, including its own.
type NATSBroker struct {
	conn *nats.Conn
}

func NewNATSBroker(url string) (*NATSBroker, error) {
	conn, err := nats.Connect(url, nats.Name("feedline"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS connected", "url", conn.ConnectedUrl())
	return &NATSBroker{conn: conn}, nil
}

func (b *NATSBroker) Publish(_ context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(subjectFor(ev.Topic), raw)
}

func (b *NATSBroker) Subscribe(h Handler) (func(), error) {
	sub, err := b.conn.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
			return
		}
		h(ev)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}

func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}
