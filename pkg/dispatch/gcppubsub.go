package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// gcpPubSubSender implements the Sender interface for Google Cloud Pub/Sub.
type gcpPubSubSender struct {
	id    string
	typ   string
	topic *pubsub.Topic
	log   Logger
}

// newGCPPubSubSender creates a Pub/Sub sender. Credentials come from the
// environment unless overridden via opts.
func newGCPPubSubSender(ctx context.Context, cfg *GCPQueueConfig, opts []option.ClientOption, sinkID string, log Logger) (Sender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sink %q missing pubsub configuration", sinkID)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &gcpPubSubSender{
		id:    sinkID,
		typ:   TypePubSub,
		topic: client.Topic(cfg.Topic),
		log:   ensureLogger(log),
	}, nil
}

func newGCPPubSubSenderFromSink(ctx context.Context, cfg SinkConfig, log Logger) (Sender, error) {
	return newGCPPubSubSender(ctx, cfg.PubSub, nil, cfg.ID, log)
}

func (s *gcpPubSubSender) ID() string   { return s.id }
func (s *gcpPubSubSender) Type() string { return s.typ }

// Send publishes the event to the configured Pub/Sub topic and waits for the
// server acknowledgement.
func (s *gcpPubSubSender) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"source": evt.Source,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		s.log.ErrorObj("pubsub sender delivery failed", "dispatch_pubsub_error", map[string]any{
			"sink_id": s.id,
			"error":   err.Error(),
		})
		return fmt.Errorf("publish to pubsub: %w", err)
	}
	s.log.DebugObj("pubsub sender delivered event", "dispatch_pubsub_delivery", map[string]any{
		"sink_id": s.id,
	})
	return nil
}
