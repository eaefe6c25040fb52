package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsClient defines the minimal subset of the SNS client used by awsSNSSender.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// awsSNSSender implements the Sender interface for AWS SNS.
type awsSNSSender struct {
	id       string
	topicARN string
	typ      string
	client   snsClient
	log      Logger
}

// newAWSSNSSender creates a new SNS sender with the given configuration.
func newAWSSNSSender(ctx context.Context, cfg SinkConfig, log Logger) (Sender, error) {
	if cfg.SNS == nil {
		return nil, fmt.Errorf("sink %q missing sns configuration", cfg.ID)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.SNS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &awsSNSSender{
		id:       cfg.ID,
		typ:      TypeSNS,
		topicARN: cfg.SNS.TopicARN,
		client:   sns.NewFromConfig(awsCfg),
		log:      ensureLogger(log),
	}, nil
}

func (s *awsSNSSender) ID() string   { return s.id }
func (s *awsSNSSender) Type() string { return s.typ }

// Send publishes the event to the configured SNS topic.
func (s *awsSNSSender) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Source),
			},
		},
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		s.log.ErrorObj("sns sender delivery failed", "dispatch_sns_error", map[string]any{
			"sink_id": s.id,
			"error":   err.Error(),
		})
		return fmt.Errorf("publish to sns: %w", err)
	}
	s.log.DebugObj("sns sender delivered event", "dispatch_sns_delivery", map[string]any{
		"sink_id": s.id,
	})
	return nil
}
