package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Builder creates a Sender from a config entry.
type Builder func(ctx context.Context, cfg SinkConfig, log Logger) (Sender, error)

// Registry maps sink types to builders.
type Registry interface {
	Register(typ string, builder Builder)
	SenderFor(ctx context.Context, cfg SinkConfig, log Logger) (Sender, error)
}

type registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with optional pre-registered builders.
func NewRegistry(builders map[string]Builder) Registry {
	r := &registry{
		builders: make(map[string]Builder),
	}
	for typ, b := range builders {
		r.Register(typ, b)
	}
	return r
}

// Register associates a builder with a sink type.
func (r *registry) Register(typ string, builder Builder) {
	if typ = strings.TrimSpace(strings.ToLower(typ)); typ == "" || builder == nil {
		return
	}

	r.mu.Lock()
	r.builders[typ] = builder
	r.mu.Unlock()
}

// SenderFor returns the sender built for the provided config.
func (r *registry) SenderFor(ctx context.Context, cfg SinkConfig, log Logger) (Sender, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("sink %q has no type configured", cfg.ID)
	}

	r.mu.RLock()
	builder := r.builders[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()

	if builder == nil {
		return nil, fmt.Errorf("no sender registered for type %q", cfg.Type)
	}
	return builder(ctx, cfg, log)
}

// DefaultRegistry wires up known senders.
func DefaultRegistry() Registry {
	builders := map[string]Builder{
		TypeHTTP:   newHTTPSender,
		TypeSQS:    newAWSSQSSender,
		TypeSNS:    newAWSSNSSender,
		TypePubSub: newGCPPubSubSenderFromSink,
	}
	return NewRegistry(builders)
}

// BuildAll instantiates senders for configs using the registry.
func BuildAll(ctx context.Context, reg Registry, cfgs []SinkConfig, log Logger) ([]Sender, error) {
	if reg == nil || len(cfgs) == 0 {
		return nil, nil
	}

	var senders []Sender
	for _, cfg := range cfgs {
		s, err := reg.SenderFor(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}
