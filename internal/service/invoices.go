package service

import (
	"context"
	"fmt"
	"strings"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

// CreateInvoiceFromTicket bills the ticket's current line items at the
// organization's tax rate. A ticket carries at most one live invoice, and a
// cancelled ticket cannot be billed.
func (s *Service) CreateInvoiceFromTicket(ctx context.Context, sess domain.Session, ticketID string) (domain.Invoice, error) {
	if err := s.authorize(sess, authz.InvoicesCreate); err != nil {
		return domain.Invoice{}, err
	}

	org, err := s.repo.GetOrganization(ctx, sess.OrganizationID)
	if err != nil {
		return domain.Invoice{}, err
	}

	var ticket domain.Ticket
	created, err := s.repo.CreateInvoice(ctx, sess.OrganizationID, ticketID, func(t domain.Ticket, items []domain.TicketLineItem) (domain.Invoice, error) {
		ticket = t
		if t.Status == domain.TicketCancelled {
			return domain.Invoice{}, fmt.Errorf("%w: ticket %s is cancelled", store.ErrConflict, t.Number)
		}
		if len(items) == 0 {
			return domain.Invoice{}, invalid("line_items", "ticket has nothing to invoice")
		}
		lines := make([]domain.InvoiceLine, 0, len(items))
		subtotal := int64(0)
		for _, item := range items {
			line := domain.InvoiceLine{
				ProductID:      item.ProductID,
				Description:    item.Description,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				IsLabor:        item.IsLabor,
				TotalCents:     item.TotalCents(),
			}
			subtotal += line.TotalCents
			lines = append(lines, line)
		}
		tax := domain.ComputeTax(subtotal, org.TaxRate)
		return domain.Invoice{
			ID:            xid.New("inv"),
			SubtotalCents: subtotal,
			TaxRate:       org.TaxRate,
			TaxCents:      tax,
			TotalCents:    subtotal + tax,
			CreatedBy:     sess.UserID,
			CreatedAt:     s.now(),
			Lines:         lines,
		}, nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, sess, "invoice_create", "invoice", created.ID, fmt.Sprintf("number=%s,ticket=%s,total=%d", created.Number, ticket.Number, created.TotalCents))
	s.notify(ctx, sess, "/invoices", "/tickets/"+ticket.ID, "/dashboard")
	return *created, nil
}

func (s *Service) SendInvoice(ctx context.Context, sess domain.Session, invoiceID string) (domain.Invoice, error) {
	return s.changeInvoiceStatus(ctx, sess, invoiceID, domain.InvoiceSent, "invoice_send")
}

func (s *Service) MarkInvoiceOverdue(ctx context.Context, sess domain.Session, invoiceID string) (domain.Invoice, error) {
	return s.changeInvoiceStatus(ctx, sess, invoiceID, domain.InvoiceOverdue, "invoice_overdue")
}

func (s *Service) CancelInvoice(ctx context.Context, sess domain.Session, invoiceID string) (domain.Invoice, error) {
	return s.changeInvoiceStatus(ctx, sess, invoiceID, domain.InvoiceCancelled, "invoice_cancel")
}

func (s *Service) changeInvoiceStatus(ctx context.Context, sess domain.Session, invoiceID string, status domain.InvoiceStatus, action string) (domain.Invoice, error) {
	if err := s.authorize(sess, authz.InvoicesUpdate); err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.UpdateInvoiceStatus(ctx, sess.OrganizationID, invoiceID, status, s.now())
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, sess, action, "invoice", invoice.ID, fmt.Sprintf("number=%s,status=%s", invoice.Number, invoice.Status))
	s.notify(ctx, sess, "/invoices", "/invoices/"+invoice.ID, "/dashboard")
	return *invoice, nil
}

// RecordPayment appends a payment. The invoice turns PAID once all payments
// together cover the total; partial payments leave the status unchanged.
func (s *Service) RecordPayment(ctx context.Context, sess domain.Session, invoiceID string, req domain.PaymentRequest) (domain.Invoice, error) {
	if err := s.authorize(sess, authz.InvoicesUpdate); err != nil {
		return domain.Invoice{}, err
	}

	req.Method = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.Method))))
	req.Reference = strings.TrimSpace(req.Reference)

	var v validator
	v.check(req.AmountCents >= 1, "amount_cents", "must be at least 1")
	v.check(req.Method.Valid(), "method", "must be one of CASH, CARD, TRANSFER, OTHER")
	if err := v.err(); err != nil {
		return domain.Invoice{}, err
	}

	invoice, err := s.repo.RecordPayment(ctx, sess.OrganizationID, domain.Payment{
		ID:          xid.New("pay"),
		InvoiceID:   invoiceID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Reference:   req.Reference,
		ReceivedBy:  sess.UserID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, sess, "invoice_payment", "invoice", invoice.ID, fmt.Sprintf("number=%s,amount=%d,method=%s,paid=%d,total=%d", invoice.Number, req.AmountCents, req.Method, invoice.PaidCents, invoice.TotalCents))
	if invoice.Status == domain.InvoicePaid {
		s.publish(ctx, sess, events.InvoicePaid, invoice.ID, map[string]any{
			"number":      invoice.Number,
			"ticket_id":   invoice.TicketID,
			"total_cents": invoice.TotalCents,
			"paid_cents":  invoice.PaidCents,
		})
	}
	s.notify(ctx, sess, "/invoices", "/invoices/"+invoice.ID, "/dashboard")
	return *invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, sess domain.Session, invoiceID string) (domain.Invoice, error) {
	if err := s.authorize(sess, authz.InvoicesRead); err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, sess.OrganizationID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}
