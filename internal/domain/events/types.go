// Package events defines the event envelope carried by the feedwire bus.
package events

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/brianly1003/feedwire/internal/domain"
)

// Well-known entity names.
const (
	EntityAuthentication = "Authentication"
	EntityUser           = "User"
	EntityNotification   = "Notification"
	EntityPost           = "Post"
	EntityConnection     = "Connection"
)

// Lifecycle actions.
const (
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionView        = "view"
	ActionQuery       = "query"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionUnregister  = "unregister"

	// Server-originated frames.
	ActionWelcome = "welcome"
	ActionError   = "error"
)

// Context keys used by subscription management events.
const (
	ContextUserID       = "userId"
	ContextConnectionID = "connectionId"
	ContextAction       = "action"
)

// IsControlAction reports whether action manages subscriptions rather than
// carrying content.
func IsControlAction(action string) bool {
	switch action {
	case ActionSubscribe, ActionUnsubscribe, ActionUnregister:
		return true
	}
	return false
}

// Audience is the ordered list of recipients of an event. On the wire it may
// be a single id or a list of ids; it always marshals as a list.
type Audience []string

// UnmarshalJSON accepts a string, a number, or a list of either. Numbers keep
// their literal digits.
func (a *Audience) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*a = nil
	case []any:
		out := make(Audience, 0, len(v))
		for _, item := range v {
			id, err := idString(item)
			if err != nil {
				return err
			}
			out = append(out, id)
		}
		*a = out
	default:
		id, err := idString(v)
		if err != nil {
			return err
		}
		*a = Audience{id}
	}
	return nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("audience entry of type %T: %w", v, domain.ErrInvalidEvent)
	}
}

// Event is the unit of communication on the bus.
type Event struct {
	Audience Audience       `json:"audience"`
	Entity   string         `json:"entity"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context"`
	Options  map[string]any `json:"options"`
}

// Payload is what a listener receives. It never carries the audience.
type Payload struct {
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	Context map[string]any `json:"context"`
	Options map[string]any `json:"options"`
}

// New builds an event. A nil context or options becomes an empty map.
func New(audience Audience, entity, action string, context, options map[string]any) *Event {
	if context == nil {
		context = map[string]any{}
	}
	if options == nil {
		options = map[string]any{}
	}
	return &Event{
		Audience: audience,
		Entity:   entity,
		Action:   action,
		Context:  context,
		Options:  options,
	}
}

// Validate checks the preconditions for triggering an event.
func (e *Event) Validate() error {
	if len(e.Audience) == 0 {
		return domain.ErrEmptyAudience
	}
	for _, id := range e.Audience {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("blank audience entry: %w", domain.ErrEmptyAudience)
		}
	}
	if e.Entity == "" {
		return fmt.Errorf("entity is required: %w", domain.ErrInvalidEvent)
	}
	if e.Action == "" {
		return fmt.Errorf("action is required: %w", domain.ErrInvalidEvent)
	}
	return nil
}

// Payload strips the audience.
func (e *Event) Payload() Payload {
	return Payload{
		Entity:  e.Entity,
		Action:  e.Action,
		Context: e.Context,
		Options: e.Options,
	}
}

// ContextString returns a context value as a string. Numeric ids are
// formatted without a fractional part.
func (e *Event) ContextString(key string) string {
	return contextString(e.Context, key)
}

// ContextString returns a context value as a string.
func (p Payload) ContextString(key string) string {
	return contextString(p.Context, key)
}

func contextString(ctx map[string]any, key string) string {
	v, ok := ctx[key]
	if !ok || v == nil {
		return ""
	}
	s, err := idString(v)
	if err != nil {
		return ""
	}
	return s
}

// Marshal encodes the event for the publish channel.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a message received from the publish channel.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w: %v", domain.ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	if e.Options == nil {
		e.Options = map[string]any{}
	}
	return &e, nil
}

// ToJSON serializes the payload as an outbound wire message.
func (p Payload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// NewErrorPayload builds an error frame for a connection.
func NewErrorPayload(code, message string) Payload {
	return Payload{
		Entity:  EntityConnection,
		Action:  ActionError,
		Context: map[string]any{"code": code, "message": message},
		Options: map[string]any{},
	}
}
