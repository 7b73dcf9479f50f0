package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fixdesk/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

// Repository is scoped by organization on every call. Records belonging to
// another organization are reported as ErrNotFound. Methods that touch more
// than one row run as a single atomic unit.
type Repository interface {
	GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error)
	UpdateOrganizationTaxRate(ctx context.Context, organizationID string, rate decimal.Decimal) (*domain.Organization, error)
	GetStore(ctx context.Context, organizationID string, storeID string) (*domain.Store, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUser(ctx context.Context, organizationID string, userID string) (*domain.UserAccount, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, organizationID string, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, organizationID string, limit int) ([]domain.Customer, error)
	CreateDevice(ctx context.Context, device domain.Device) (*domain.Device, error)
	GetDevice(ctx context.Context, organizationID string, deviceID string) (*domain.Device, error)

	CreateProduct(ctx context.Context, product domain.Product, storeID string, initialStock int) (*domain.Product, error)
	GetProduct(ctx context.Context, organizationID string, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, organizationID string) ([]domain.Product, error)
	ListStock(ctx context.Context, organizationID string, storeID string) ([]domain.StockItem, error)
	AdjustStock(ctx context.Context, organizationID string, storeID string, productID string, delta int, policy domain.StockPolicy) (*domain.StockItem, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, organizationID string) ([]domain.Supplier, error)

	CreateTicket(ctx context.Context, ticket domain.Ticket, history domain.TicketHistory) (*domain.Ticket, error)
	GetTicket(ctx context.Context, organizationID string, ticketID string) (*domain.Ticket, error)
	UpdateTicketStatus(ctx context.Context, organizationID string, expectedFrom domain.TicketStatus, history domain.TicketHistory) (*domain.Ticket, error)
	ListTicketHistory(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketHistory, error)
	CreateTicketAssignment(ctx context.Context, organizationID string, assignment domain.TicketAssignment) (*domain.TicketAssignment, error)
	ListTicketAssignments(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketAssignment, error)
	CreateTicketNote(ctx context.Context, organizationID string, note domain.TicketNote) (*domain.TicketNote, error)
	ListTicketNotes(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketNote, error)
	AddTicketLineItem(ctx context.Context, organizationID string, item domain.TicketLineItem, policy domain.StockPolicy) (*domain.TicketLineItem, error)
	RemoveTicketLineItem(ctx context.Context, organizationID string, ticketID string, lineItemID string, policy domain.StockPolicy) error
	ListTicketLineItems(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketLineItem, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, organizationID string, storeID string, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error)
	SubmitPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, orderedAt time.Time) (*domain.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, cancelledAt time.Time) (*domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, lines []domain.ReceiptLine, receivedAt time.Time) (*domain.PurchaseOrder, error)

	CreateInvoice(ctx context.Context, organizationID string, ticketID string, build InvoiceBuilder) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, organizationID string, invoiceID string) (*domain.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, organizationID string, invoiceID string, status domain.InvoiceStatus, at time.Time) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, organizationID string, payment domain.Payment) (*domain.Invoice, error)

	CreateSale(ctx context.Context, sale domain.SaleTransaction, policy domain.StockPolicy) (*domain.SaleTransaction, error)
	GetSale(ctx context.Context, organizationID string, saleID string) (*domain.SaleTransaction, error)

	GetDashboard(ctx context.Context, organizationID string, storeID string, from time.Time, to time.Time) (domain.Dashboard, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, organizationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// InvoiceBuilder prices a ticket's line items into an invoice. CreateInvoice
// calls it while holding the ticket, so the items passed are the ones billed.
type InvoiceBuilder func(ticket domain.Ticket, items []domain.TicketLineItem) (domain.Invoice, error)
