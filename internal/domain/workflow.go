package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketReceived       TicketStatus = "RECEIVED"
	TicketDiagnosed      TicketStatus = "DIAGNOSED"
	TicketWaitingParts   TicketStatus = "WAITING_PARTS"
	TicketInRepair       TicketStatus = "IN_REPAIR"
	TicketQA             TicketStatus = "QA"
	TicketReadyForPickup TicketStatus = "READY_FOR_PICKUP"
	TicketComplete       TicketStatus = "COMPLETE"
	TicketCancelled      TicketStatus = "CANCELLED"
)

// ticketFlow is the linear repair workflow. CANCELLED sits outside it.
var ticketFlow = []TicketStatus{
	TicketReceived,
	TicketDiagnosed,
	TicketWaitingParts,
	TicketInRepair,
	TicketQA,
	TicketReadyForPickup,
	TicketComplete,
}

var (
	ErrTerminalStatus = errors.New("ticket status is terminal")
	ErrSameStatus     = errors.New("ticket already has this status")
	ErrStatusSkipped  = errors.New("status change skips workflow steps")
	ErrUnknownStatus  = errors.New("unknown status")
)

func (s TicketStatus) Valid() bool {
	return s == TicketCancelled || s.step() >= 0
}

func (s TicketStatus) Terminal() bool {
	return s == TicketComplete || s == TicketCancelled
}

// Open reports whether the ticket still needs work.
func (s TicketStatus) Open() bool {
	return s.Valid() && !s.Terminal()
}

func (s TicketStatus) step() int {
	for i, candidate := range ticketFlow {
		if candidate == s {
			return i
		}
	}
	return -1
}

func TicketStatuses() []TicketStatus {
	statuses := make([]TicketStatus, 0, len(ticketFlow)+1)
	statuses = append(statuses, ticketFlow...)
	return append(statuses, TicketCancelled)
}

// CheckTicketTransition applies the workflow policy: one step forward or
// back, or CANCELLED from any open status. override lifts the adjacency rule
// but never reopens a terminal ticket.
func CheckTicketTransition(from TicketStatus, to TicketStatus, override bool) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrUnknownStatus, from, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, from)
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSameStatus, from)
	}
	if to == TicketCancelled || override {
		return nil
	}
	distance := to.step() - from.step()
	if distance == 1 || distance == -1 {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrStatusSkipped, from, to)
}

// NextTicketStatuses lists the statuses a ticket may move to without override.
func NextTicketStatuses(from TicketStatus) []TicketStatus {
	if !from.Open() {
		return []TicketStatus{}
	}
	next := make([]TicketStatus, 0, 3)
	step := from.step()
	if step > 0 {
		next = append(next, ticketFlow[step-1])
	}
	if step+1 < len(ticketFlow) {
		next = append(next, ticketFlow[step+1])
	}
	return append(next, TicketCancelled)
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityNormal TicketPriority = "NORMAL"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type PurchaseOrderStatus string

const (
	PurchaseOrderDraft           PurchaseOrderStatus = "DRAFT"
	PurchaseOrderOrdered         PurchaseOrderStatus = "ORDERED"
	PurchaseOrderPartialReceived PurchaseOrderStatus = "PARTIAL_RECEIVED"
	PurchaseOrderReceived        PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderCancelled       PurchaseOrderStatus = "CANCELLED"
)

func (s PurchaseOrderStatus) Valid() bool {
	switch s {
	case PurchaseOrderDraft, PurchaseOrderOrdered, PurchaseOrderPartialReceived, PurchaseOrderReceived, PurchaseOrderCancelled:
		return true
	}
	return false
}

func (s PurchaseOrderStatus) Receivable() bool {
	return s == PurchaseOrderOrdered || s == PurchaseOrderPartialReceived
}

var (
	ErrNotReceivable    = errors.New("purchase order is not open for receipt")
	ErrUnknownOrderItem = errors.New("item does not belong to purchase order")
	ErrBadReceiptQty    = errors.New("received quantity must be at least 1")
)

func PurchaseOrderTotal(items []PurchaseOrderItem) int64 {
	total := int64(0)
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitCostCents
	}
	return total
}

// FullyReceived reports whether every item has reached its ordered quantity.
func (po PurchaseOrder) FullyReceived() bool {
	if len(po.Items) == 0 {
		return false
	}
	for _, item := range po.Items {
		if item.ReceivedQty < item.Quantity {
			return false
		}
	}
	return true
}

// ApplyReceipt adds the received quantities onto the matching items and moves
// the order to RECEIVED or PARTIAL_RECEIVED. It returns the stock increment
// per product. The order is left untouched when an error is returned.
func (po *PurchaseOrder) ApplyReceipt(lines []ReceiptLine, at time.Time) (map[string]int, error) {
	if !po.Status.Receivable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotReceivable, po.Status)
	}
	if len(lines) == 0 {
		return nil, ErrBadReceiptQty
	}
	index := make(map[string]int, len(po.Items))
	for i, item := range po.Items {
		index[item.ID] = i
	}
	for _, line := range lines {
		if line.ReceivedQty < 1 {
			return nil, ErrBadReceiptQty
		}
		if _, ok := index[line.PurchaseOrderItemID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOrderItem, line.PurchaseOrderItemID)
		}
	}

	deltas := make(map[string]int, len(lines))
	for _, line := range lines {
		i := index[line.PurchaseOrderItemID]
		po.Items[i].ReceivedQty += line.ReceivedQty
		deltas[po.Items[i].ProductID] += line.ReceivedQty
	}
	if po.FullyReceived() {
		po.Status = PurchaseOrderReceived
		received := at
		po.ReceivedAt = &received
	} else {
		po.Status = PurchaseOrderPartialReceived
	}
	return deltas, nil
}

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// Settled reports whether the invoice no longer accepts payments.
func (s InvoiceStatus) Settled() bool {
	return s == InvoicePaid || s == InvoiceCancelled
}

var (
	ErrInvoiceClosed     = errors.New("invoice does not accept payments")
	ErrInvoiceTransition = errors.New("invoice status change not allowed")
)

// CheckInvoiceTransition covers the manual status changes; PAID is only
// reached through payments.
func CheckInvoiceTransition(from InvoiceStatus, to InvoiceStatus) error {
	allowed := false
	switch to {
	case InvoiceSent:
		allowed = from == InvoiceDraft
	case InvoiceOverdue:
		allowed = from == InvoiceSent
	case InvoiceCancelled:
		allowed = from == InvoiceDraft || from == InvoiceSent || from == InvoiceOverdue
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvoiceTransition, from, to)
	}
	return nil
}

// ApplyPayment appends payment and marks the invoice PAID once the sum of all
// payments covers the total. Partial payments leave the status alone.
func (inv *Invoice) ApplyPayment(payment Payment, at time.Time) error {
	if inv.Status.Settled() {
		return fmt.Errorf("%w: status %s", ErrInvoiceClosed, inv.Status)
	}
	inv.Payments = append(inv.Payments, payment)
	paid := int64(0)
	for _, p := range inv.Payments {
		paid += p.AmountCents
	}
	inv.PaidCents = paid
	if paid >= inv.TotalCents {
		inv.Status = InvoicePaid
		paidAt := at
		inv.PaidAt = &paidAt
	}
	return nil
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentOther    PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// ComputeTax rounds base * rate to whole cents, half away from zero.
func ComputeTax(baseCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(baseCents).Mul(rate).Round(0).IntPart()
}

type StockPolicy string

const (
	StockPermissive StockPolicy = "permissive"
	StockStrict     StockPolicy = "strict"
)

func ParseStockPolicy(raw string) (StockPolicy, bool) {
	switch StockPolicy(raw) {
	case StockPermissive:
		return StockPermissive, true
	case StockStrict:
		return StockStrict, true
	}
	return "", false
}

// NextStockQuantity applies delta to an on-hand quantity. A missing row starts
// at max(delta, 0); an existing row takes the raw increment. Under the strict
// policy a result below zero is refused (ok == false).
func NextStockQuantity(current int, exists bool, delta int, policy StockPolicy) (next int, ok bool) {
	if !exists {
		if policy == StockStrict && delta < 0 {
			return 0, false
		}
		return max(delta, 0), true
	}
	next = current + delta
	if policy == StockStrict && next < 0 {
		return current, false
	}
	return next, true
}
