package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
)

const (
	testOrg      = "org-it"
	testStore    = "store-it"
	testProduct  = "prod-it"
	testSupplier = "sup-it"
)

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := os.Getenv("FIXDESK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set FIXDESK_TEST_DATABASE_URL to run postgres integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.RuntimeParams["search_path"] = schema
	s, err := New(ctx, stdlib.RegisterConnConfig(cfg))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seedBaseData(t, ctx, s)
	return s
}

func execOnce(ctx context.Context, dsn string, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func seedBaseData(t *testing.T, ctx context.Context, s *Store) {
	t.Helper()
	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO organizations (id, name, tax_rate) VALUES ($1, 'Integration', 0.2)`, []any{testOrg}},
		{`INSERT INTO stores (id, organization_id, name) VALUES ($1, $2, 'Main')`, []any{testStore, testOrg}},
		{`INSERT INTO products (id, organization_id, sku, name, price_cents, cost_cents) VALUES ($1, $2, 'IT-1', 'Screen', 1000, 500)`, []any{testProduct, testOrg}},
		{`INSERT INTO suppliers (id, organization_id, name) VALUES ($1, $2, 'Parts')`, []any{testSupplier, testOrg}},
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestReceivePurchaseOrderAccumulates(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		OrganizationID: testOrg,
		StoreID:        testStore,
		SupplierID:     testSupplier,
		CreatedBy:      "usr-it",
		Items:          []domain.PurchaseOrderItem{{ProductID: testProduct, Quantity: 10, UnitCostCents: 5}},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	if po.TotalCostCents != 50 || po.Number != "PO-000001" {
		t.Fatalf("unexpected purchase order: %+v", po)
	}
	if _, err := s.SubmitPurchaseOrder(ctx, testOrg, po.ID, time.Now().UTC()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	itemID := po.Items[0].ID
	partial, err := s.ReceivePurchaseOrder(ctx, testOrg, po.ID, []domain.ReceiptLine{{PurchaseOrderItemID: itemID, ReceivedQty: 6}}, time.Time{})
	if err != nil {
		t.Fatalf("first receipt: %v", err)
	}
	if partial.Status != domain.PurchaseOrderPartialReceived || partial.Items[0].ReceivedQty != 6 {
		t.Fatalf("unexpected partial receipt: %+v", partial)
	}

	full, err := s.ReceivePurchaseOrder(ctx, testOrg, po.ID, []domain.ReceiptLine{{PurchaseOrderItemID: itemID, ReceivedQty: 4}}, time.Time{})
	if err != nil {
		t.Fatalf("second receipt: %v", err)
	}
	if full.Status != domain.PurchaseOrderReceived || full.ReceivedAt == nil {
		t.Fatalf("expected RECEIVED with timestamp, got %+v", full)
	}

	_, err = s.ReceivePurchaseOrder(ctx, testOrg, po.ID, []domain.ReceiptLine{{PurchaseOrderItemID: itemID, ReceivedQty: 1}}, time.Time{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on closed order, got %v", err)
	}

	stock, err := s.ListStock(ctx, testOrg, testStore)
	if err != nil {
		t.Fatalf("list stock: %v", err)
	}
	if len(stock) != 1 || stock[0].Quantity != 10 {
		t.Fatalf("expected 10 on hand, got %+v", stock)
	}
}

func TestStrictStockRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	if _, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, -1, domain.StockStrict); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on missing row, got %v", err)
	}
	if _, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, 3, domain.StockStrict); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if _, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, -4, domain.StockStrict); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	item, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, -5, domain.StockPermissive)
	if err != nil {
		t.Fatalf("permissive adjust: %v", err)
	}
	if item.Quantity != -2 {
		t.Fatalf("expected -2 on hand, got %d", item.Quantity)
	}
}

func TestConcurrentAdjustmentsAllApply(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	if _, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, 10, domain.StockStrict); err != nil {
		t.Fatalf("restock: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, short := 0, 0
	var unexpected []error
	for range 15 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustStock(ctx, testOrg, testStore, testProduct, -1, domain.StockStrict)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				short++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected adjustment errors: %v", unexpected)
	}
	if succeeded != 10 || short != 5 {
		t.Fatalf("expected 10 decrements and 5 refusals, got %d and %d", succeeded, short)
	}
	stock, err := s.ListStock(ctx, testOrg, testStore)
	if err != nil {
		t.Fatalf("list stock: %v", err)
	}
	if len(stock) != 1 || stock[0].Quantity != 0 {
		t.Fatalf("expected empty shelf, got %+v", stock)
	}
}

func TestConcurrentPurchaseOrdersGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	const orders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	numbers := make(map[string]bool, orders)
	var failures []error
	for range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
				OrganizationID: testOrg,
				StoreID:        testStore,
				SupplierID:     testSupplier,
				CreatedBy:      "usr-it",
				Items:          []domain.PurchaseOrderItem{{ProductID: testProduct, Quantity: 1, UnitCostCents: 5}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			numbers[po.Number] = true
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("concurrent creates failed: %v", failures)
	}
	if len(numbers) != orders {
		t.Fatalf("expected %d distinct numbers, got %v", orders, numbers)
	}
}

func TestCreateProductWithOpeningStockIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	_, err := s.CreateProduct(ctx, domain.Product{OrganizationID: testOrg, SKU: "IT-2", Name: "Battery", PriceCents: 900}, "store-missing", 5)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected missing store to be not found, got %v", err)
	}
	products, err := s.ListProducts(ctx, testOrg)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected only the seeded product, got %d", len(products))
	}

	created, err := s.CreateProduct(ctx, domain.Product{OrganizationID: testOrg, SKU: "IT-2", Name: "Battery", PriceCents: 900}, testStore, 5)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	stock, err := s.ListStock(ctx, testOrg, testStore)
	if err != nil {
		t.Fatalf("list stock: %v", err)
	}
	if len(stock) != 1 || stock[0].ProductID != created.ID || stock[0].Quantity != 5 {
		t.Fatalf("expected opening stock of 5, got %+v", stock)
	}
}

func TestTicketLifecycleAndInvoice(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	customer, err := s.CreateCustomer(ctx, domain.Customer{OrganizationID: testOrg, Name: "Dana", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	device, err := s.CreateDevice(ctx, domain.Device{OrganizationID: testOrg, CustomerID: customer.ID, Brand: "Apple", Model: "iPhone 13"})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	now := time.Now().UTC()
	ticket, err := s.CreateTicket(ctx, domain.Ticket{
		OrganizationID: testOrg,
		StoreID:        testStore,
		CustomerID:     customer.ID,
		DeviceID:       device.ID,
		Title:          "Cracked screen",
		Status:         domain.TicketReceived,
		Priority:       domain.PriorityNormal,
		CreatedBy:      "usr-it",
	}, domain.TicketHistory{ToStatus: domain.TicketReceived, ActorID: "usr-it", CreatedAt: now})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.Number != "TKT-000001" {
		t.Fatalf("unexpected ticket number %s", ticket.Number)
	}

	if _, err := s.UpdateTicketStatus(ctx, testOrg, domain.TicketReceived, domain.TicketHistory{
		TicketID: ticket.ID, ToStatus: domain.TicketDiagnosed, ActorID: "usr-it", CreatedAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if _, err := s.UpdateTicketStatus(ctx, testOrg, domain.TicketReceived, domain.TicketHistory{
		TicketID: ticket.ID, ToStatus: domain.TicketCancelled, ActorID: "usr-it", CreatedAt: now.Add(2 * time.Second),
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}

	history, err := s.ListTicketHistory(ctx, testOrg, ticket.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].FromStatus != nil || *history[1].FromStatus != domain.TicketReceived {
		t.Fatalf("unexpected history: %+v", history)
	}

	if _, err := s.AddTicketLineItem(ctx, testOrg, domain.TicketLineItem{
		TicketID: ticket.ID, ProductID: testProduct, Description: "Screen", Quantity: 1, UnitPriceCents: 1000,
	}, domain.StockPermissive); err != nil {
		t.Fatalf("add line: %v", err)
	}

	var billed []domain.TicketLineItem
	invoice, err := s.CreateInvoice(ctx, testOrg, ticket.ID, func(_ domain.Ticket, items []domain.TicketLineItem) (domain.Invoice, error) {
		billed = items
		return domain.Invoice{
			SubtotalCents: 1000,
			TaxCents:      200,
			TotalCents:    1200,
			CreatedBy:     "usr-it",
			Lines:         []domain.InvoiceLine{{ProductID: testProduct, Description: "Screen", Quantity: 1, UnitPriceCents: 1000, TotalCents: 1000}},
		}, nil
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if len(billed) != 1 || billed[0].ProductID != testProduct {
		t.Fatalf("expected the ticket's line item to be billed, got %+v", billed)
	}
	if invoice.TicketID != ticket.ID || invoice.OrganizationID != testOrg || invoice.Number != "INV-000001" {
		t.Fatalf("unexpected invoice: %+v", invoice)
	}
	_, err = s.CreateInvoice(ctx, testOrg, ticket.ID, func(domain.Ticket, []domain.TicketLineItem) (domain.Invoice, error) {
		return domain.Invoice{CreatedBy: "usr-it"}, nil
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second invoice, got %v", err)
	}

	if _, err := s.RecordPayment(ctx, testOrg, domain.Payment{InvoiceID: invoice.ID, AmountCents: 500, Method: domain.PaymentCash, ReceivedBy: "usr-it"}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	paid, err := s.RecordPayment(ctx, testOrg, domain.Payment{InvoiceID: invoice.ID, AmountCents: 700, Method: domain.PaymentCard, ReceivedBy: "usr-it"})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if paid.Status != domain.InvoicePaid || paid.PaidCents != 1200 || len(paid.Payments) != 2 {
		t.Fatalf("unexpected invoice after payments: %+v", paid)
	}
}
