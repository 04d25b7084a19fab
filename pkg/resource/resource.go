// Package resource implements the didReplace/didUpdate conventions for
// named JSON resources shared between widgets.
package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/jsonpatch"
)

const (
	// KindReplace announces a complete new value of a resource.
	KindReplace = "didReplace"
	// KindUpdate announces a JSON patch against the current value.
	KindUpdate = "didUpdate"
)

// ReplacePayload is the payload of didReplace.<name>.
type ReplacePayload struct {
	Resource string `json:"resource"`
	Data     any    `json:"data"`
}

// UpdatePayload is the payload of didUpdate.<name>.
type UpdatePayload struct {
	Resource string          `json:"resource"`
	Patches  jsonpatch.Patch `json:"patches"`
}

// ReplaceEventName returns "didReplace.<name>".
func ReplaceEventName(name string) string {
	return KindReplace + "." + name
}

// UpdateEventName returns "didUpdate.<name>".
func UpdateEventName(name string) string {
	return KindUpdate + "." + name
}

// NameFromEvent extracts the resource name from a didReplace/didUpdate
// event name. ok is false for other events.
func NameFromEvent(event string) (name string, ok bool) {
	kind, rest, found := strings.Cut(event, ".")
	if !found || rest == "" || (kind != KindReplace && kind != KindUpdate) {
		return "", false
	}
	return rest, true
}

// ValidateName rejects names that cannot be used as a bus subject token.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("resource name is empty")
	}
	if strings.ContainsAny(name, " *>\t\r\n") {
		return fmt.Errorf("resource name %q contains whitespace or wildcard characters", name)
	}
	return nil
}

// Publisher is the subset of *eventbus.EventBus used to publish resources.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any, opts ...eventbus.PublishOption) error
}

// PublishReplace publishes didReplace.<name> carrying data.
func PublishReplace(ctx context.Context, pub Publisher, name string, data any, opts ...eventbus.PublishOption) error {
	return pub.Publish(ctx, ReplaceEventName(name), ReplacePayload{
		Resource: name,
		Data:     data,
	}, opts...)
}

// PublishUpdate publishes didUpdate.<name> carrying patches.
func PublishUpdate(ctx context.Context, pub Publisher, name string, patches jsonpatch.Patch, opts ...eventbus.PublishOption) error {
	if patches == nil {
		patches = jsonpatch.Patch{}
	}
	return pub.Publish(ctx, UpdateEventName(name), UpdatePayload{
		Resource: name,
		Patches:  patches,
	}, opts...)
}
