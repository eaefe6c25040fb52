package dispatch

import "context"

// Sender delivers events to one downstream sink (SQS, SNS, Pub/Sub, HTTP).
type Sender interface {
	ID() string
	Type() string
	Send(ctx context.Context, evt Event) error
}
