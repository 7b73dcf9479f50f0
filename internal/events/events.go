// Package events publishes domain events after a mutation commits. Publishing
// is best effort: failures are logged by the caller and never undo the write.
package events

import (
	"context"
	"time"
)

const (
	TicketCreated         = "ticket.created"
	TicketStatusChanged   = "ticket.status_changed"
	TicketAssigned        = "ticket.assigned"
	PurchaseOrderReceived = "purchase_order.received"
	InvoicePaid           = "invoice.paid"
	SaleCompleted         = "sale.completed"
)

type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrganizationID string         `json:"organization_id"`
	EntityID       string         `json:"entity_id"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Payload        map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}
