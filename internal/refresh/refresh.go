package refresh

import (
	"context"
	"time"
)

// Notifier tells subscribed views that their data changed. Delivery is best
// effort: callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, organizationID string, paths ...string) error
}

// Message is the payload published for each hint.
type Message struct {
	OrganizationID string    `json:"organization_id"`
	Paths          []string  `json:"paths"`
	At             time.Time `json:"at"`
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(_ context.Context, _ string, _ ...string) error {
	return nil
}
