package errors

import (
	"context"

	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/i18n"
	"github.com/odvcencio/mashup/pkg/logging"
)

// EventKind is the first token of error event names.
const EventKind = "didEncounterError"

// EventName returns "didEncounterError.<code>".
func EventName(code ErrorCode) string {
	return EventKind + "." + string(code)
}

// FeatureConfig configures the error reporting feature of a widget
// (usually the "messages" feature). Messages map an i18n key to texts by
// locale tag.
type FeatureConfig struct {
	I18nHTMLMessages map[string]map[string]string `yaml:"i18nHtmlMessages" json:"i18nHtmlMessages,omitempty"`
}

// EventPayload is the payload of didEncounterError.<code>.
type EventPayload struct {
	Code       ErrorCode      `json:"code"`
	MessageKey string         `json:"messageKey"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Cause      map[string]any `json:"cause,omitempty"`
}

// PublishFunc reports an error on the bus.
type PublishFunc func(ctx context.Context, code ErrorCode, messageKey string, data, cause map[string]any) error

// PublisherForFeature returns a PublishFunc bound to pub and the feature's
// message texts. Messages are localized for locale and their [key]
// placeholders filled from data; unknown keys publish the key itself.
func PublisherForFeature(pub *eventbus.EventBus, cfg FeatureConfig, locale string, logger *logging.Logger) PublishFunc {
	if logger == nil {
		logger = logging.Nop()
	}
	return func(ctx context.Context, code ErrorCode, messageKey string, data, cause map[string]any) error {
		message := messageKey
		if texts, ok := cfg.I18nHTMLMessages[messageKey]; ok && len(texts) > 0 {
			message = i18n.Format(i18n.Localize(locale, texts), data)
		}

		logger.Error(logging.CategoryWidget, "error_published", message, map[string]any{
			"code":       string(code),
			"messageKey": messageKey,
			"data":       data,
		})

		payload := EventPayload{
			Code:       code,
			MessageKey: messageKey,
			Message:    message,
			Data:       data,
			Cause:      cause,
		}
		if err := pub.Publish(ctx, EventName(code), payload); err != nil {
			return Wrap(err, ErrCodeBusPublish, "could not publish error event").
				WithContext("code", string(code))
		}
		return nil
	}
}
