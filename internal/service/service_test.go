package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	paths []string
	fail  bool
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, paths ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, paths...)
	if n.fail {
		return errors.New("redis down")
	}
	return nil
}

type testEnv struct {
	svc       *Service
	repo      *memory.Store
	publisher *recordingPublisher
	notifier  *recordingNotifier
}

func newTestEnv(policy domain.StockPolicy) testEnv {
	repo := memory.NewSeeded()
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc := New(repo, Options{
		StockPolicy: policy,
		Notifier:    notifier,
		Publisher:   publisher,
	})
	return testEnv{svc: svc, repo: repo, publisher: publisher, notifier: notifier}
}

func newTestService() *Service {
	return newTestEnv(domain.StockPermissive).svc
}

func sessionFor(userID string, role domain.Role) domain.Session {
	return domain.Session{
		UserID:         userID,
		Role:           role,
		OrganizationID: memory.DemoOrganizationID,
		ActiveStoreID:  memory.DemoStoreID,
	}
}

var (
	adminSession   = sessionFor("usr-admin", domain.RoleAdmin)
	managerSession = sessionFor("usr-manager", domain.RoleManager)
	techSession    = sessionFor("usr-tech", domain.RoleTechnician)
	staffSession   = sessionFor("usr-staff", domain.RoleStaff)
)

func stockOf(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	resp, err := svc.ListStock(context.Background(), adminSession, "")
	if err != nil {
		t.Fatalf("list stock failed: %v", err)
	}
	for _, item := range resp.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	t.Fatalf("no stock row for %s", productID)
	return 0
}

func openTicket(t *testing.T, svc *Service) domain.Ticket {
	t.Helper()
	ctx := context.Background()

	customer, err := svc.CreateCustomer(ctx, staffSession, domain.CustomerCreateRequest{Name: "Rita Rivera", Phone: "+1 555 0100"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	device, err := svc.CreateDevice(ctx, staffSession, domain.DeviceCreateRequest{
		CustomerID:   customer.ID,
		Brand:        "Apple",
		Model:        "iPhone 13",
		SerialNumber: "f2lxk1",
	})
	if err != nil {
		t.Fatalf("create device failed: %v", err)
	}
	ticket, err := svc.CreateTicket(ctx, staffSession, domain.TicketCreateRequest{
		CustomerID: customer.ID,
		DeviceID:   device.ID,
		Title:      "Cracked screen",
		Priority:   "normal",
	})
	if err != nil {
		t.Fatalf("create ticket failed: %v", err)
	}
	return ticket
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestCreateTicketWritesInitialHistory(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ticket := openTicket(t, env.svc)

	if ticket.Status != domain.TicketReceived {
		t.Fatalf("expected RECEIVED, got %s", ticket.Status)
	}
	if ticket.Number != "TKT-000001" {
		t.Fatalf("expected first ticket number, got %s", ticket.Number)
	}
	if ticket.StoreID != memory.DemoStoreID {
		t.Fatalf("expected active store, got %s", ticket.StoreID)
	}

	history, err := env.svc.ListTicketHistory(context.Background(), techSession, ticket.ID)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(history) != 1 || history[0].FromStatus != nil || history[0].ToStatus != domain.TicketReceived {
		t.Fatalf("unexpected initial history: %+v", history)
	}
	if !slices.Contains(env.publisher.types(), events.TicketCreated) {
		t.Fatalf("expected ticket.created event, got %v", env.publisher.types())
	}
}

func TestCreateTicketValidatesInput(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateTicket(context.Background(), staffSession, domain.TicketCreateRequest{Priority: "SOMEDAY"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected validation error to match ErrInvalidTransaction")
	}
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	for _, want := range []string{"customer_id", "device_id", "title", "priority"} {
		if !slices.Contains(fields, want) {
			t.Fatalf("expected %s in %v", want, fields)
		}
	}
}

func TestCreateTicketRejectsDeviceOfAnotherCustomer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	owner, _ := svc.CreateCustomer(ctx, staffSession, domain.CustomerCreateRequest{Name: "Owner", Phone: "1"})
	other, _ := svc.CreateCustomer(ctx, staffSession, domain.CustomerCreateRequest{Name: "Other", Phone: "2"})
	device, err := svc.CreateDevice(ctx, staffSession, domain.DeviceCreateRequest{CustomerID: owner.ID, Brand: "Samsung", Model: "S22"})
	if err != nil {
		t.Fatalf("create device failed: %v", err)
	}

	_, err = svc.CreateTicket(ctx, staffSession, domain.TicketCreateRequest{
		CustomerID: other.ID,
		DeviceID:   device.ID,
		Title:      "No power",
		Priority:   domain.PriorityHigh,
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestTicketDiagnoseThenCancel(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ctx := context.Background()
	ticket := openTicket(t, env.svc)

	diagnosed, err := env.svc.UpdateTicketStatus(ctx, techSession, ticket.ID, domain.TicketStatusRequest{
		Status: domain.TicketDiagnosed,
		Note:   "initial check",
	})
	if err != nil {
		t.Fatalf("diagnose failed: %v", err)
	}
	if diagnosed.Status != domain.TicketDiagnosed || diagnosed.CompletedAt != nil {
		t.Fatalf("unexpected ticket after diagnose: %+v", diagnosed)
	}

	cancelled, err := env.svc.UpdateTicketStatus(ctx, managerSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketCancelled})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.TicketCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	_, err = env.svc.UpdateTicketStatus(ctx, adminSession, ticket.ID, domain.TicketStatusRequest{
		Status:   domain.TicketInRepair,
		Override: true,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict leaving a terminal status, got %v", err)
	}

	detail, err := env.svc.GetTicket(ctx, techSession, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket failed: %v", err)
	}
	history := detail.History
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	if history[1].Note != "initial check" || *history[1].FromStatus != domain.TicketReceived {
		t.Fatalf("unexpected diagnose history row: %+v", history[1])
	}
	if last := history[len(history)-1]; last.ToStatus != detail.Ticket.Status {
		t.Fatalf("last history status %s does not match ticket %s", last.ToStatus, detail.Ticket.Status)
	}
	if len(detail.NextStatuses) != 0 {
		t.Fatalf("terminal ticket should offer no next statuses, got %v", detail.NextStatuses)
	}
}

func TestTicketSkipNeedsOverridePermission(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)

	_, err := svc.UpdateTicketStatus(ctx, techSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketInRepair})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for skipped steps, got %v", err)
	}

	_, err = svc.UpdateTicketStatus(ctx, techSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketInRepair, Override: true})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected technician override to be unauthorized, got %v", err)
	}

	updated, err := svc.UpdateTicketStatus(ctx, managerSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketInRepair, Override: true})
	if err != nil {
		t.Fatalf("manager override failed: %v", err)
	}
	if updated.Status != domain.TicketInRepair {
		t.Fatalf("expected IN_REPAIR, got %s", updated.Status)
	}
}

func TestTicketCompletionStampsCompletedAt(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)

	var current domain.Ticket
	for _, next := range []domain.TicketStatus{
		domain.TicketDiagnosed,
		domain.TicketWaitingParts,
		domain.TicketInRepair,
		domain.TicketQA,
		domain.TicketReadyForPickup,
		domain.TicketComplete,
	} {
		var err error
		current, err = svc.UpdateTicketStatus(ctx, techSession, ticket.ID, domain.TicketStatusRequest{Status: next})
		if err != nil {
			t.Fatalf("move to %s failed: %v", next, err)
		}
		if (current.CompletedAt != nil) != (current.Status == domain.TicketComplete) {
			t.Fatalf("completed_at mismatch at %s", current.Status)
		}
	}

	_, err := svc.UpdateTicketStatus(ctx, techSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketComplete})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on completed ticket, got %v", err)
	}
}

func TestAssignTicketAllowsDuplicatesWithinOrganization(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ctx := context.Background()
	ticket := openTicket(t, env.svc)

	for range 2 {
		if _, err := env.svc.AssignTicket(ctx, managerSession, ticket.ID, domain.TicketAssignRequest{UserID: "usr-tech"}); err != nil {
			t.Fatalf("assign failed: %v", err)
		}
	}
	_, err := env.svc.AssignTicket(ctx, managerSession, ticket.ID, domain.TicketAssignRequest{UserID: "usr-nobody"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}

	detail, err := env.svc.GetTicket(ctx, techSession, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket failed: %v", err)
	}
	if len(detail.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(detail.Assignments))
	}
}

func TestTicketLineItemsMoveStock(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)
	before := stockOf(t, svc, "prod-screen-ip13")

	part, err := svc.AddTicketLineItem(ctx, techSession, ticket.ID, domain.TicketLineItemRequest{
		ProductID: "prod-screen-ip13",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add part failed: %v", err)
	}
	if part.UnitPriceCents != 18900 || part.Description == "" {
		t.Fatalf("expected catalog price and name, got %+v", part)
	}
	if got := stockOf(t, svc, "prod-screen-ip13"); got != before-2 {
		t.Fatalf("expected stock %d, got %d", before-2, got)
	}

	if _, err := svc.AddTicketLineItem(ctx, techSession, ticket.ID, domain.TicketLineItemRequest{
		ProductID:      "prod-screen-ip13",
		Description:    "Calibration",
		Quantity:       1,
		UnitPriceCents: int64Ptr(2500),
		IsLabor:        true,
	}); err != nil {
		t.Fatalf("add labor failed: %v", err)
	}
	if got := stockOf(t, svc, "prod-screen-ip13"); got != before-2 {
		t.Fatalf("labor line must not move stock, got %d", got)
	}

	if err := svc.RemoveTicketLineItem(ctx, techSession, ticket.ID, part.ID); err != nil {
		t.Fatalf("remove part failed: %v", err)
	}
	if got := stockOf(t, svc, "prod-screen-ip13"); got != before {
		t.Fatalf("expected stock restored to %d, got %d", before, got)
	}
}

func TestStrictPolicyRejectsTicketPartBeyondStock(t *testing.T) {
	svc := newTestEnv(domain.StockStrict).svc
	ticket := openTicket(t, svc)

	_, err := svc.AddTicketLineItem(context.Background(), techSession, ticket.ID, domain.TicketLineItemRequest{
		ProductID: "prod-port-usbc",
		Quantity:  13,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	detail, _ := svc.GetTicket(context.Background(), techSession, ticket.ID)
	if len(detail.LineItems) != 0 {
		t.Fatalf("rejected line must not be stored")
	}
}

func TestAdjustStockPolicies(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	item, err := svc.AdjustStock(ctx, managerSession, domain.StockAdjustRequest{ProductID: "prod-glass-s22", Delta: -15, Reason: "breakage"})
	if err != nil {
		t.Fatalf("permissive adjust failed: %v", err)
	}
	if item.Quantity != -3 {
		t.Fatalf("expected -3 after permissive adjust, got %d", item.Quantity)
	}

	_, err = svc.AdjustStock(ctx, managerSession, domain.StockAdjustRequest{ProductID: "prod-port-usbc", Delta: -13, Strict: true})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock under strict, got %v", err)
	}
	if got := stockOf(t, svc, "prod-port-usbc"); got != 12 {
		t.Fatalf("strict rejection must not change stock, got %d", got)
	}

	_, err = svc.AdjustStock(ctx, managerSession, domain.StockAdjustRequest{ProductID: "prod-port-usbc"})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected validation error for zero delta, got %v", err)
	}

	_, err = svc.AdjustStock(ctx, staffSession, domain.StockAdjustRequest{ProductID: "prod-port-usbc", Delta: 1})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected staff adjust to be unauthorized, got %v", err)
	}
}

func TestAdjustStockMissingRowClampsAtZero(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, adminSession, domain.ProductCreateRequest{SKU: "cam-ip14", Name: "iPhone 14 camera", PriceCents: 5900})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	item, err := svc.AdjustStock(ctx, managerSession, domain.StockAdjustRequest{ProductID: product.ID, Delta: -4})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.Quantity != 0 {
		t.Fatalf("expected new row clamped to 0, got %d", item.Quantity)
	}
}

func TestPurchaseOrderPartialThenFullReceipt(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	svc := env.svc
	ctx := context.Background()
	before := stockOf(t, svc, "prod-battery-ip12")

	po, err := svc.CreatePurchaseOrder(ctx, managerSession, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-partsdirect",
		Items: []domain.PurchaseOrderItemRequest{
			{ProductID: "prod-battery-ip12", Quantity: 10, UnitCostCents: 5},
		},
	})
	if err != nil {
		t.Fatalf("create po failed: %v", err)
	}
	if po.TotalCostCents != 50 || po.Status != domain.PurchaseOrderDraft || po.Number != "PO-000001" {
		t.Fatalf("unexpected new po: %+v", po)
	}

	_, err = svc.ReceivePurchaseOrder(ctx, managerSession, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.ReceiptLine{{PurchaseOrderItemID: po.Items[0].ID, ReceivedQty: 1}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict receiving a draft, got %v", err)
	}

	if _, err := svc.SubmitPurchaseOrder(ctx, managerSession, po.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	partial, err := svc.ReceivePurchaseOrder(ctx, managerSession, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.ReceiptLine{{PurchaseOrderItemID: po.Items[0].ID, ReceivedQty: 6}},
	})
	if err != nil {
		t.Fatalf("first receipt failed: %v", err)
	}
	if partial.Status != domain.PurchaseOrderPartialReceived || partial.Items[0].ReceivedQty != 6 {
		t.Fatalf("unexpected po after partial receipt: %+v", partial)
	}

	full, err := svc.ReceivePurchaseOrder(ctx, managerSession, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.ReceiptLine{{PurchaseOrderItemID: po.Items[0].ID, ReceivedQty: 4}},
	})
	if err != nil {
		t.Fatalf("second receipt failed: %v", err)
	}
	if full.Status != domain.PurchaseOrderReceived || full.ReceivedAt == nil || full.Items[0].ReceivedQty != 10 {
		t.Fatalf("unexpected po after full receipt: %+v", full)
	}
	if got := stockOf(t, svc, "prod-battery-ip12"); got != before+10 {
		t.Fatalf("expected stock %d, got %d", before+10, got)
	}

	_, err = svc.CancelPurchaseOrder(ctx, managerSession, po.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict cancelling a received po, got %v", err)
	}

	received := 0
	for _, typ := range env.publisher.types() {
		if typ == events.PurchaseOrderReceived {
			received++
		}
	}
	if received != 2 {
		t.Fatalf("expected 2 receipt events, got %d", received)
	}
}

func TestPurchaseOrderReceiptsAccumulate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, managerSession, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-partsdirect",
		Items: []domain.PurchaseOrderItemRequest{
			{ProductID: "prod-port-usbc", Quantity: 10, UnitCostCents: 900},
			{ProductID: "prod-glass-s22", Quantity: 2, UnitCostCents: 300},
		},
	})
	if err != nil {
		t.Fatalf("create po failed: %v", err)
	}
	if _, err := svc.SubmitPurchaseOrder(ctx, managerSession, po.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	line := domain.ReceiptLine{PurchaseOrderItemID: po.Items[0].ID, ReceivedQty: 3}
	for range 2 {
		if _, err := svc.ReceivePurchaseOrder(ctx, managerSession, po.ID, domain.PurchaseOrderReceiveRequest{Items: []domain.ReceiptLine{line}}); err != nil {
			t.Fatalf("receipt failed: %v", err)
		}
	}

	got, err := svc.GetPurchaseOrder(ctx, techSession, po.ID)
	if err != nil {
		t.Fatalf("get po failed: %v", err)
	}
	if got.Items[0].ReceivedQty != 6 || got.Status != domain.PurchaseOrderPartialReceived {
		t.Fatalf("expected 6 received and PARTIAL_RECEIVED, got %d %s", got.Items[0].ReceivedQty, got.Status)
	}

	_, err = svc.ReceivePurchaseOrder(ctx, managerSession, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.ReceiptLine{{PurchaseOrderItemID: "poi_unknown", ReceivedQty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction for foreign item, got %v", err)
	}
}

func TestInvoiceSettlement(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	svc := env.svc
	ctx := context.Background()
	ticket := openTicket(t, svc)

	if _, err := svc.UpdateTaxRate(ctx, adminSession, "0.2"); err != nil {
		t.Fatalf("set tax rate failed: %v", err)
	}
	if _, err := svc.AddTicketLineItem(ctx, techSession, ticket.ID, domain.TicketLineItemRequest{
		Description:    "Diagnostics",
		Quantity:       1,
		UnitPriceCents: int64Ptr(100),
		IsLabor:        true,
	}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}

	invoice, err := svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID)
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if invoice.SubtotalCents != 100 || invoice.TaxCents != 20 || invoice.TotalCents != 120 {
		t.Fatalf("unexpected invoice totals: %+v", invoice)
	}
	if invoice.Status != domain.InvoiceDraft || invoice.Number != "INV-000001" {
		t.Fatalf("unexpected new invoice: %+v", invoice)
	}

	_, err = svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second invoice, got %v", err)
	}

	partial, err := svc.RecordPayment(ctx, managerSession, invoice.ID, domain.PaymentRequest{AmountCents: 50, Method: "cash"})
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if partial.Status != domain.InvoiceDraft || partial.PaidCents != 50 {
		t.Fatalf("partial payment must leave status, got %s paid=%d", partial.Status, partial.PaidCents)
	}

	paid, err := svc.RecordPayment(ctx, managerSession, invoice.ID, domain.PaymentRequest{AmountCents: 70, Method: domain.PaymentCard, Reference: "AUTH-77"})
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if paid.Status != domain.InvoicePaid || paid.PaidAt == nil || len(paid.Payments) != 2 {
		t.Fatalf("expected PAID with two payments, got %+v", paid)
	}
	if !slices.Contains(env.publisher.types(), events.InvoicePaid) {
		t.Fatalf("expected invoice.paid event")
	}

	_, err = svc.RecordPayment(ctx, managerSession, invoice.ID, domain.PaymentRequest{AmountCents: 1, Method: domain.PaymentCash})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict paying a paid invoice, got %v", err)
	}
	_, err = svc.CancelInvoice(ctx, managerSession, invoice.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict cancelling a paid invoice, got %v", err)
	}
}

func TestInvoiceStatusChanges(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)

	_, err := svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID)
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected validation error for empty ticket, got %v", err)
	}

	if _, err := svc.AddTicketLineItem(ctx, techSession, ticket.ID, domain.TicketLineItemRequest{ProductID: "prod-battery-ip12", Quantity: 1}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	invoice, err := svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID)
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if invoice.TotalCents != 6900+1380 {
		t.Fatalf("unexpected total %d", invoice.TotalCents)
	}

	_, err = svc.MarkInvoiceOverdue(ctx, managerSession, invoice.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict marking a draft overdue, got %v", err)
	}
	sent, err := svc.SendInvoice(ctx, managerSession, invoice.ID)
	if err != nil || sent.Status != domain.InvoiceSent || sent.SentAt == nil {
		t.Fatalf("send failed: %v %+v", err, sent)
	}
	overdue, err := svc.MarkInvoiceOverdue(ctx, managerSession, invoice.ID)
	if err != nil || overdue.Status != domain.InvoiceOverdue {
		t.Fatalf("overdue failed: %v %+v", err, overdue)
	}
	cancelled, err := svc.CancelInvoice(ctx, managerSession, invoice.ID)
	if err != nil || cancelled.Status != domain.InvoiceCancelled {
		t.Fatalf("cancel failed: %v %+v", err, cancelled)
	}

	if _, err := svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID); err != nil {
		t.Fatalf("expected a new invoice after cancellation, got %v", err)
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordPayment(context.Background(), managerSession, "inv_missing", domain.PaymentRequest{AmountCents: 0, Method: "barter"})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
}

func TestSaleTransactionTotalsAndStock(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	svc := env.svc
	ctx := context.Background()

	sale, err := svc.CreateSaleTransaction(ctx, managerSession, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-glass-s22", Quantity: 2},
			{Description: "Screen protector fitting", Quantity: 1, UnitPriceCents: int64Ptr(500)},
		},
		DiscountCents: 300,
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.SubtotalCents != 4300 || sale.TaxCents != 800 || sale.TotalCents != 4800 {
		t.Fatalf("unexpected sale totals: %+v", sale)
	}
	if sale.Number != "RCP-000001" {
		t.Fatalf("unexpected sale number %s", sale.Number)
	}
	if got := stockOf(t, svc, "prod-glass-s22"); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}

	got, err := svc.GetSale(ctx, techSession, sale.ID)
	if err != nil || len(got.Lines) != 2 {
		t.Fatalf("get sale failed: %v", err)
	}
	if !slices.Contains(env.publisher.types(), events.SaleCompleted) {
		t.Fatalf("expected sale.completed event")
	}
}

func TestSaleIsAtomicUnderStrictPolicy(t *testing.T) {
	svc := newTestEnv(domain.StockStrict).svc
	ctx := context.Background()

	_, err := svc.CreateSaleTransaction(ctx, managerSession, domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-glass-s22", Quantity: 1},
			{ProductID: "prod-port-usbc", Quantity: 20},
		},
		PaymentMethod: domain.PaymentCard,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, svc, "prod-glass-s22"); got != 12 {
		t.Fatalf("failed sale must not move stock, got %d", got)
	}
}

func TestSaleRejectsDiscountAboveSubtotal(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSaleTransaction(context.Background(), managerSession, domain.SaleCreateRequest{
		Lines:         []domain.SaleLineRequest{{ProductID: "prod-glass-s22", Quantity: 1}},
		DiscountCents: 5000,
		PaymentMethod: domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ctx := context.Background()
	ticket := openTicket(t, env.svc)

	env.repo.AddOrganization(domain.Organization{ID: "org-rival", Name: "Rival Fix", TaxRate: decimal.Zero},
		domain.Store{ID: "store-rival", Name: "Rival HQ"})
	rival := domain.Session{
		UserID:         "usr-rival",
		Role:           domain.RoleAdmin,
		OrganizationID: "org-rival",
		ActiveStoreID:  "store-rival",
	}

	if _, err := env.svc.GetTicket(ctx, rival, ticket.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found reading another org's ticket, got %v", err)
	}
	if _, err := env.svc.UpdateTicketStatus(ctx, rival, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketDiagnosed}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found updating another org's ticket, got %v", err)
	}
	if _, err := env.svc.AdjustStock(ctx, rival, domain.StockAdjustRequest{ProductID: "prod-glass-s22", Delta: 5}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found adjusting another org's product, got %v", err)
	}
	if _, err := env.svc.CreatePurchaseOrder(ctx, rival, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-partsdirect",
		Items:      []domain.PurchaseOrderItemRequest{{ProductID: "prod-glass-s22", Quantity: 1}},
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found using another org's supplier, got %v", err)
	}
}

func TestOperationsRequireSession(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateTicket(ctx, domain.Session{}, domain.TicketCreateRequest{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without session, got %v", err)
	}
	if _, err := svc.GetDashboard(ctx, domain.Session{UserID: "usr-admin", Role: domain.RoleAdmin}, "", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without organization, got %v", err)
	}
}

func TestRolePermissionsAreEnforced(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"staff cannot create purchase orders", func() error {
			_, err := svc.CreatePurchaseOrder(ctx, staffSession, domain.PurchaseOrderCreateRequest{})
			return err
		}},
		{"technician cannot create invoices", func() error {
			_, err := svc.CreateInvoiceFromTicket(ctx, techSession, "tkt_x")
			return err
		}},
		{"technician cannot ring up sales", func() error {
			_, err := svc.CreateSaleTransaction(ctx, techSession, domain.SaleCreateRequest{})
			return err
		}},
		{"manager cannot change tax rate", func() error {
			_, err := svc.UpdateTaxRate(ctx, managerSession, "0.1")
			return err
		}},
		{"staff cannot read dashboard", func() error {
			_, err := svc.GetDashboard(ctx, staffSession, "", "")
			return err
		}},
		{"technician cannot create tickets", func() error {
			_, err := svc.CreateTicket(ctx, techSession, domain.TicketCreateRequest{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestUpdateTaxRateValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, raw := range []string{"abc", "-0.1", "1.5"} {
		if _, err := svc.UpdateTaxRate(ctx, adminSession, raw); !errors.Is(err, store.ErrInvalidTransaction) {
			t.Fatalf("rate %q: expected invalid transaction, got %v", raw, err)
		}
	}
	org, err := svc.UpdateTaxRate(ctx, adminSession, " 0.11 ")
	if err != nil {
		t.Fatalf("update tax rate failed: %v", err)
	}
	if !org.TaxRate.Equal(decimal.RequireFromString("0.11")) {
		t.Fatalf("unexpected tax rate %s", org.TaxRate)
	}
}

func TestDashboardSummarizesDay(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	openTicket(t, svc)

	if _, err := svc.AdjustStock(ctx, managerSession, domain.StockAdjustRequest{ProductID: "prod-port-usbc", Delta: -12}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if _, err := svc.CreateSaleTransaction(ctx, managerSession, domain.SaleCreateRequest{
		Lines:         []domain.SaleLineRequest{{ProductID: "prod-glass-s22", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	dash, err := svc.GetDashboard(ctx, managerSession, "", "")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dash.OpenTickets != 1 || dash.TicketsByStatus[domain.TicketReceived] != 1 {
		t.Fatalf("unexpected ticket counts: %+v", dash)
	}
	if dash.SalesCount != 1 || dash.SalesTotalCents != 2280 {
		t.Fatalf("unexpected sales summary: count=%d total=%d", dash.SalesCount, dash.SalesTotalCents)
	}
	if len(dash.DepletedStock) != 1 || dash.DepletedStock[0].ProductID != "prod-port-usbc" {
		t.Fatalf("unexpected depleted stock: %+v", dash.DepletedStock)
	}
	if dash.Date != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("unexpected dashboard date %s", dash.Date)
	}

	if _, err := svc.GetDashboard(ctx, managerSession, "", "16/10/2026"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid date to fail validation, got %v", err)
	}
}

func TestMutationsWriteAuditLog(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)

	logs, err := svc.ListAuditLogs(ctx, adminSession, "", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(logs))
	}
	if logs[0].Action != "ticket_create" || logs[0].EntityID != ticket.ID || logs[0].ActorRole != domain.RoleStaff {
		t.Fatalf("unexpected newest audit entry: %+v", logs[0])
	}
}

func TestNotifierFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	env.notifier.fail = true

	ticket := openTicket(t, env.svc)
	if ticket.ID == "" {
		t.Fatalf("expected ticket to be created")
	}
	if !slices.Contains(env.notifier.paths, "/tickets") {
		t.Fatalf("expected refresh hint for /tickets, got %v", env.notifier.paths)
	}
}

func TestCreateUserHashesPasswordAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ctx := context.Background()

	view, err := env.svc.CreateUser(ctx, adminSession, domain.UserCreateRequest{
		Email:    "Nia@Fixdesk.local",
		Name:     "Nia Tech",
		Password: "soldering-iron-42",
		Role:     "technician",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if view.Email != "nia@fixdesk.local" || view.Role != domain.RoleTechnician || view.DefaultStoreID != memory.DemoStoreID {
		t.Fatalf("unexpected user view: %+v", view)
	}

	account, err := env.repo.FindUserByEmail(ctx, "nia@fixdesk.local")
	if err != nil {
		t.Fatalf("find user failed: %v", err)
	}
	if account.PasswordHash == "soldering-iron-42" || account.PasswordHash == "" {
		t.Fatalf("expected a password hash to be stored")
	}

	_, err = env.svc.CreateUser(ctx, adminSession, domain.UserCreateRequest{
		Email:    "nia@fixdesk.local",
		Name:     "Nia Again",
		Password: "soldering-iron-42",
		Role:     domain.RoleStaff,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	_, err = env.svc.CreateUser(ctx, managerSession, domain.UserCreateRequest{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected manager user creation to be unauthorized, got %v", err)
	}
}

func TestCreateProductWithOpeningStockIsAllOrNothing(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	before, err := svc.ListProducts(ctx, adminSession)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}

	elsewhere := adminSession
	elsewhere.ActiveStoreID = "store-missing"
	_, err = svc.CreateProduct(ctx, elsewhere, domain.ProductCreateRequest{SKU: "cam-ip15", Name: "iPhone 15 camera", PriceCents: 7900, InitialStock: 5})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing store, got %v", err)
	}
	after, err := svc.ListProducts(ctx, adminSession)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("failed create left a product behind: before=%d after=%d", len(before), len(after))
	}

	product, err := svc.CreateProduct(ctx, adminSession, domain.ProductCreateRequest{SKU: "cam-ip15", Name: "iPhone 15 camera", PriceCents: 7900, InitialStock: 5})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if got := stockOf(t, svc, product.ID); got != 5 {
		t.Fatalf("expected opening stock 5, got %d", got)
	}
}

type stalledPublisher struct {
	mu          sync.Mutex
	hadDeadline bool
}

func (p *stalledPublisher) Publish(ctx context.Context, _ events.Event) error {
	_, ok := ctx.Deadline()
	p.mu.Lock()
	p.hadDeadline = ok
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type stalledNotifier struct{}

func (stalledNotifier) Notify(ctx context.Context, _ string, _ ...string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledHooksDoNotHoldUpMutations(t *testing.T) {
	publisher := &stalledPublisher{}
	svc := New(memory.NewSeeded(), Options{
		Publisher:   publisher,
		Notifier:    stalledNotifier{},
		HookTimeout: 20 * time.Millisecond,
	})

	started := time.Now()
	ticket := openTicket(t, svc)
	if ticket.ID == "" {
		t.Fatalf("expected ticket to be created")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("mutations waited on stalled hooks for %s", elapsed)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if !publisher.hadDeadline {
		t.Fatalf("expected publish to run under a deadline")
	}
}

func TestHooksRunAfterRequestCancellation(t *testing.T) {
	env := newTestEnv(domain.StockPermissive)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.svc.CreateCustomer(ctx, staffSession, domain.CustomerCreateRequest{Name: "Noor", Phone: "555-0199"}); err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if !slices.Contains(env.notifier.paths, "/customers") {
		t.Fatalf("expected refresh hint despite cancelled request, got %v", env.notifier.paths)
	}
}

func TestCancelledTicketCannotBeInvoiced(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	ticket := openTicket(t, svc)

	if _, err := svc.AddTicketLineItem(ctx, techSession, ticket.ID, domain.TicketLineItemRequest{
		Description:    "Diagnostics",
		Quantity:       1,
		UnitPriceCents: int64Ptr(100),
		IsLabor:        true,
	}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svc.UpdateTicketStatus(ctx, managerSession, ticket.ID, domain.TicketStatusRequest{Status: domain.TicketCancelled}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	_, err := svc.CreateInvoiceFromTicket(ctx, managerSession, ticket.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for cancelled ticket, got %v", err)
	}
}
