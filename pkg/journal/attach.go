package journal

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/logging"
)

// Attach records every event published on transport until the returned
// subscription is removed or ctx is done.
func (j *Journal) Attach(ctx context.Context, transport bus.MessageBus, logger *logging.Logger) (bus.Subscription, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	return transport.Subscribe(ctx, ">", func(msg *bus.Message) {
		entry := Entry{Subject: msg.Subject, Payload: json.RawMessage("null")}
		var env eventbus.Envelope
		if err := json.Unmarshal(msg.Data, &env); err == nil {
			entry.Name = env.Name
			entry.Sender = env.Sender
			if len(env.Payload) > 0 {
				entry.Payload = env.Payload
			}
		} else {
			raw, _ := json.Marshal(string(msg.Data))
			entry.Payload = raw
		}
		if _, err := j.Append(context.WithoutCancel(ctx), entry); err != nil {
			logger.Warn(logging.CategoryBus, "journal_append_failed", err.Error(), map[string]any{
				"subject": msg.Subject,
			})
		}
	})
}
