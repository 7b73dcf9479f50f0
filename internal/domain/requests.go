package domain

import (
	"fmt"
	"time"
)

// Document number prefixes, one sequence per organization and prefix.
const (
	TicketNumberPrefix        = "TKT"
	PurchaseOrderNumberPrefix = "PO"
	InvoiceNumberPrefix       = "INV"
	SaleNumberPrefix          = "RCP"
)

func FormatNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken    string    `json:"access_token"`
	TokenType      string    `json:"token_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organization_id"`
	StoreID        string    `json:"store_id"`
}

type UserCreateRequest struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	Role           Role   `json:"role"`
	DefaultStoreID string `json:"default_store_id"`
}

// UserView is a user account without credentials.
type UserView struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	DefaultStoreID string    `json:"default_store_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type DeviceCreateRequest struct {
	CustomerID   string `json:"customer_id"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
	Strict    bool   `json:"strict"`
}

type StockListResponse struct {
	StoreID string      `json:"store_id"`
	Items   []StockItem `json:"items"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type TicketCreateRequest struct {
	CustomerID  string         `json:"customer_id"`
	DeviceID    string         `json:"device_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    TicketPriority `json:"priority"`
}

type TicketStatusRequest struct {
	Status   TicketStatus `json:"status"`
	Note     string       `json:"note"`
	Override bool         `json:"override"`
}

type TicketAssignRequest struct {
	UserID string `json:"user_id"`
}

type TicketNoteRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

type TicketLineItemRequest struct {
	ProductID      string `json:"product_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
	IsLabor        bool   `json:"is_labor"`
}

// TicketDetail is a ticket together with everything it owns.
type TicketDetail struct {
	Ticket       Ticket             `json:"ticket"`
	LineItems    []TicketLineItem   `json:"line_items"`
	Assignments  []TicketAssignment `json:"assignments"`
	Notes        []TicketNote       `json:"notes"`
	History      []TicketHistory    `json:"history"`
	NextStatuses []TicketStatus     `json:"next_statuses"`
}

type PurchaseOrderItemRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type PurchaseOrderCreateRequest struct {
	StoreID    string                     `json:"store_id"`
	SupplierID string                     `json:"supplier_id"`
	Notes      string                     `json:"notes"`
	Items      []PurchaseOrderItemRequest `json:"items"`
}

type PurchaseOrderReceiveRequest struct {
	Items []ReceiptLine `json:"items"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type PaymentRequest struct {
	AmountCents int64         `json:"amount_cents"`
	Method      PaymentMethod `json:"method"`
	Reference   string        `json:"reference"`
}

type SaleLineRequest struct {
	ProductID      string `json:"product_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
}

type SaleCreateRequest struct {
	CustomerID       string            `json:"customer_id"`
	Lines            []SaleLineRequest `json:"lines"`
	DiscountCents    int64             `json:"discount_cents"`
	PaymentMethod    PaymentMethod     `json:"payment_method"`
	PaymentReference string            `json:"payment_reference"`
}
