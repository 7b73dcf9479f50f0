package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	url := os.Getenv("FIXDESK_TEST_AMQP_URL")
	if url == "" {
		t.Skip("set FIXDESK_TEST_AMQP_URL to run rabbitmq integration test")
	}

	exchange := "fixdesk.events.test"
	p, err := NewAMQPPublisher(url, exchange)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Close()
	})

	p.mu.Lock()
	ch, err := p.channelLocked()
	p.mu.Unlock()
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, InvoicePaid, exchange, false, nil); err != nil {
		t.Fatalf("bind queue: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, Event{ID: "evt-1", Type: TicketCreated, OrganizationID: "org-1", EntityID: "tkt-1", OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("publish unbound type: %v", err)
	}
	if err := p.Publish(ctx, Event{ID: "evt-2", Type: InvoicePaid, OrganizationID: "org-1", EntityID: "inv-1", OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case d := <-deliveries:
		var got Event
		if err := json.Unmarshal(d.Body, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != "evt-2" || got.EntityID != "inv-1" {
			t.Fatalf("expected invoice.paid event, got %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for delivery")
	}
}
