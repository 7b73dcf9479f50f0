package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleTechnician Role = "TECHNICIAN"
	RoleStaff      Role = "STAFF"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleTechnician, RoleStaff:
		return true
	}
	return false
}

// Session identifies the caller of every service operation. It is built by
// the transport layer from a verified access token and passed explicitly.
type Session struct {
	UserID         string
	Email          string
	Role           Role
	OrganizationID string
	ActiveStoreID  string
}

type Organization struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	CreatedAt time.Time       `json:"created_at"`
}

type Store struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID             string
	OrganizationID string
	DefaultStoreID string
	Email          string
	Name           string
	PasswordHash   string
	Role           Role
	Active         bool
	CreatedAt      time.Time
}

type Customer struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Device struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	CustomerID     string    `json:"customer_id"`
	Brand          string    `json:"brand"`
	Model          string    `json:"model"`
	SerialNumber   string    `json:"serial_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Product struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	PriceCents     int64     `json:"price_cents"`
	CostCents      int64     `json:"cost_cents"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// StockItem is the on-hand quantity of one product at one store.
type StockItem struct {
	OrganizationID string    `json:"organization_id"`
	StoreID        string    `json:"store_id"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Supplier struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	CreatedAt      time.Time `json:"created_at"`
}

type Ticket struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	StoreID        string         `json:"store_id"`
	Number         string         `json:"number"`
	CustomerID     string         `json:"customer_id"`
	DeviceID       string         `json:"device_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         TicketStatus   `json:"status"`
	Priority       TicketPriority `json:"priority"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// ApplyStatus moves the ticket to status and keeps CompletedAt in step with
// it: set when entering COMPLETE, cleared otherwise.
func (t *Ticket) ApplyStatus(status TicketStatus, at time.Time) {
	t.Status = status
	t.UpdatedAt = at
	if status == TicketComplete {
		completed := at
		t.CompletedAt = &completed
		return
	}
	t.CompletedAt = nil
}

type TicketHistory struct {
	ID         string        `json:"id"`
	TicketID   string        `json:"ticket_id"`
	FromStatus *TicketStatus `json:"from_status"`
	ToStatus   TicketStatus  `json:"to_status"`
	ActorID    string        `json:"actor_id"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type TicketAssignment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	UserID     string    `json:"user_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

type TicketNote struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

type TicketLineItem struct {
	ID             string    `json:"id"`
	TicketID       string    `json:"ticket_id"`
	ProductID      string    `json:"product_id,omitempty"`
	Description    string    `json:"description"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	IsLabor        bool      `json:"is_labor"`
	CreatedAt      time.Time `json:"created_at"`
}

// MovesStock reports whether adding or removing the line touches inventory.
func (l TicketLineItem) MovesStock() bool {
	return !l.IsLabor && l.ProductID != ""
}

func (l TicketLineItem) TotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

type PurchaseOrder struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organization_id"`
	StoreID        string              `json:"store_id"`
	SupplierID     string              `json:"supplier_id"`
	Number         string              `json:"number"`
	Status         PurchaseOrderStatus `json:"status"`
	TotalCostCents int64               `json:"total_cost_cents"`
	Notes          string              `json:"notes,omitempty"`
	CreatedBy      string              `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	OrderedAt      *time.Time          `json:"ordered_at,omitempty"`
	ReceivedAt     *time.Time          `json:"received_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	Items          []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderItem struct {
	ID              string `json:"id"`
	PurchaseOrderID string `json:"purchase_order_id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	UnitCostCents   int64  `json:"unit_cost_cents"`
	ReceivedQty     int    `json:"received_qty"`
}

// ReceiptLine is one increment of a purchase order receipt.
type ReceiptLine struct {
	PurchaseOrderItemID string `json:"po_item_id"`
	ReceivedQty         int    `json:"received_qty"`
}

type Invoice struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	StoreID        string          `json:"store_id"`
	TicketID       string          `json:"ticket_id"`
	CustomerID     string          `json:"customer_id"`
	Number         string          `json:"number"`
	Status         InvoiceStatus   `json:"status"`
	SubtotalCents  int64           `json:"subtotal_cents"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxCents       int64           `json:"tax_cents"`
	TotalCents     int64           `json:"total_cents"`
	PaidCents      int64           `json:"paid_cents"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Lines          []InvoiceLine   `json:"lines"`
	Payments       []Payment       `json:"payments"`
}

type InvoiceLine struct {
	ProductID      string `json:"product_id,omitempty"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	IsLabor        bool   `json:"is_labor"`
	TotalCents     int64  `json:"total_cents"`
}

type Payment struct {
	ID          string        `json:"id"`
	InvoiceID   string        `json:"invoice_id"`
	AmountCents int64         `json:"amount_cents"`
	Method      PaymentMethod `json:"method"`
	Reference   string        `json:"reference,omitempty"`
	ReceivedBy  string        `json:"received_by"`
	CreatedAt   time.Time     `json:"created_at"`
}

type SaleTransaction struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	StoreID          string          `json:"store_id"`
	Number           string          `json:"number"`
	CustomerID       string          `json:"customer_id,omitempty"`
	SubtotalCents    int64           `json:"subtotal_cents"`
	DiscountCents    int64           `json:"discount_cents"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxCents         int64           `json:"tax_cents"`
	TotalCents       int64           `json:"total_cents"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	Lines            []SaleLine      `json:"lines"`
}

type SaleLine struct {
	ProductID      string `json:"product_id,omitempty"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type AuditLog struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	StoreID        string    `json:"store_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	ActorRole      Role      `json:"actor_role"`
	Action         string    `json:"action"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	Detail         string    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
}

type Dashboard struct {
	OrganizationID          string               `json:"organization_id"`
	StoreID                 string               `json:"store_id"`
	Date                    string               `json:"date"`
	TicketsByStatus         map[TicketStatus]int `json:"tickets_by_status"`
	OpenTickets             int                  `json:"open_tickets"`
	UnpaidInvoices          int                  `json:"unpaid_invoices"`
	OutstandingInvoiceCents int64                `json:"outstanding_invoice_cents"`
	SalesCount              int                  `json:"sales_count"`
	SalesTotalCents         int64                `json:"sales_total_cents"`
	DepletedStock           []StockItem          `json:"depleted_stock"`
}
