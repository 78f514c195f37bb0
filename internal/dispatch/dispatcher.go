package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"conductor/internal/api"
	"conductor/internal/bus"
	"conductor/internal/message"
	"conductor/pkg/logging"
)

// DefaultDiscriminator is the envelope field that selects the handler.
const DefaultDiscriminator = "messageType"

// Handler processes one decoded message.
type Handler interface {
	Handle(ctx context.Context, env message.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env message.Envelope) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env message.Envelope) error {
	return f(ctx, env)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDiscriminator reads the message type from a dotted path such as
// "header.kind" instead of the top-level messageType field.
func WithDiscriminator(path string) Option {
	return func(d *Dispatcher) {
		d.path = strings.Split(path, ".")
	}
}

// WithName sets the subsystem name used in log lines.
func WithName(name string) Option {
	return func(d *Dispatcher) {
		d.name = name
	}
}

// Dispatcher routes raw bus messages to exactly one handler per message type.
// Registration is safe while messages are being dispatched.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[message.Type]Handler
	path     []string
	name     string

	decodeErrors  atomic.Int64
	unknown       atomic.Int64
	handlerErrors atomic.Int64
}

// New creates an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[message.Type]Handler),
		path:     []string{DefaultDiscriminator},
		name:     "Dispatcher",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds the handler for t. Registering a second handler for the same
// type is an error.
func (d *Dispatcher) Register(t message.Type, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[t]; exists {
		return fmt.Errorf("handler for %s already registered", t)
	}
	d.handlers[t] = h
	logging.Debug(d.name, "Registered handler for %s", t)
	return nil
}

// Unregister removes the handler for t, if any.
func (d *Dispatcher) Unregister(t message.Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, t)
}

// Dispatch decodes raw and invokes the matching handler. It never returns an
// error to the transport: malformed and unknown messages are logged and
// dropped, and handler errors and panics are contained to this message.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	env, t, err := d.decode(raw)
	if err != nil {
		d.decodeErrors.Add(1)
		logging.Warn(d.name, "Dropping undecodable message: %v", err)
		return
	}

	d.mu.RLock()
	h, ok := d.handlers[t]
	d.mu.RUnlock()
	if !ok {
		d.unknown.Add(1)
		logging.Debug(d.name, "Dropping message %s of unhandled type %q", env.MessageID, t)
		return
	}

	d.invoke(ctx, h, t, env)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, t message.Type, env message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.handlerErrors.Add(1)
			logging.Error(d.name, fmt.Errorf("panic: %v", r), "Handler for %s panicked on message %s", t, env.MessageID)
		}
	}()
	if err := h.Handle(ctx, env); err != nil {
		d.handlerErrors.Add(1)
		logging.Error(d.name, err, "Handler for %s failed on message %s", t, env.MessageID)
	}
}

func (d *Dispatcher) decode(raw []byte) (message.Envelope, message.Type, error) {
	env, err := message.Decode(raw)
	if err != nil {
		return message.Envelope{}, "", api.NewDecodeError("invalid envelope", err)
	}

	if len(d.path) == 1 && d.path[0] == DefaultDiscriminator {
		if env.MessageType == "" {
			return env, "", api.NewDecodeError("missing "+DefaultDiscriminator, nil)
		}
		return env, env.MessageType, nil
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return env, "", api.NewDecodeError("invalid envelope", err)
	}
	var cur interface{} = generic
	for _, field := range d.path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return env, "", api.NewDecodeError("discriminator path "+strings.Join(d.path, ".")+" not found", nil)
		}
		cur = m[field]
	}
	s, ok := cur.(string)
	if !ok || s == "" {
		return env, "", api.NewDecodeError("discriminator "+strings.Join(d.path, ".")+" is not a string", nil)
	}
	return env, message.Type(s), nil
}

// Attach subscribes the dispatcher to topic on ch. The returned function
// detaches it.
func (d *Dispatcher) Attach(ctx context.Context, ch bus.Channel, topic string) func() {
	return ch.Subscribe(topic, func(raw []byte) {
		d.Dispatch(ctx, raw)
	})
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	DecodeErrors  int64 `json:"decode_errors"`
	Unknown       int64 `json:"unknown"`
	HandlerErrors int64 `json:"handler_errors"`
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		DecodeErrors:  d.decodeErrors.Load(),
		Unknown:       d.unknown.Load(),
		HandlerErrors: d.handlerErrors.Load(),
	}
}
