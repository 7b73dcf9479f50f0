package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

const invoiceColumns = `
	id, organization_id, store_id, ticket_id, customer_id, number, status,
	subtotal_cents, tax_rate, tax_cents, total_cents, paid_cents, created_by, created_at,
	sent_at, paid_at, cancelled_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	var status string
	var sentAt, paidAt, cancelledAt sql.NullTime
	err := row.Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.StoreID,
		&inv.TicketID,
		&inv.CustomerID,
		&inv.Number,
		&status,
		&inv.SubtotalCents,
		&inv.TaxRate,
		&inv.TaxCents,
		&inv.TotalCents,
		&inv.PaidCents,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&sentAt,
		&paidAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invoice{}, store.ErrNotFound
		}
		return domain.Invoice{}, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.SentAt = timePtr(sentAt)
	inv.PaidAt = timePtr(paidAt)
	inv.CancelledAt = timePtr(cancelledAt)
	return inv, nil
}

func (s *Store) CreateInvoice(ctx context.Context, organizationID string, ticketID string, build store.InvoiceBuilder) (*domain.Invoice, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ticket, err := lockTicket(ctx, tx, organizationID, ticketID)
	if err != nil {
		return nil, err
	}
	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT number FROM invoices WHERE ticket_id = $1 AND status <> 'CANCELLED'
	`, ticket.ID).Scan(&existing)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: ticket %s already has invoice %s", store.ErrConflict, ticket.ID, existing)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	items, err := listTicketLineItems(ctx, tx, ticket.ID)
	if err != nil {
		return nil, err
	}
	invoice, err := build(ticket, items)
	if err != nil {
		return nil, err
	}
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	invoice.OrganizationID = organizationID
	invoice.TicketID = ticket.ID
	invoice.Status = domain.InvoiceDraft
	invoice.CustomerID = ticket.CustomerID
	invoice.StoreID = ticket.StoreID
	invoice.Payments = []domain.Payment{}
	invoice.PaidCents = 0
	invoice.Number, err = nextNumber(ctx, tx, invoice.OrganizationID, domain.InvoiceNumberPrefix)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, organization_id, store_id, ticket_id, customer_id, number, status,
			subtotal_cents, tax_rate, tax_cents, total_cents, paid_cents, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13)
	`,
		invoice.ID,
		invoice.OrganizationID,
		invoice.StoreID,
		invoice.TicketID,
		invoice.CustomerID,
		invoice.Number,
		string(invoice.Status),
		invoice.SubtotalCents,
		invoice.TaxRate.String(),
		invoice.TaxCents,
		invoice.TotalCents,
		invoice.CreatedBy,
		invoice.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: ticket %s already invoiced", store.ErrConflict, ticket.ID)
		}
		return nil, err
	}

	for i, line := range invoice.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, position, product_id, description, quantity, unit_price_cents, is_labor, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, invoice.ID, i, nullIfEmpty(line.ProductID), line.Description, line.Quantity, line.UnitPriceCents, line.IsLabor, line.TotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := invoice
	return &saved, nil
}

func loadInvoiceDetail(ctx context.Context, q queryer, inv *domain.Invoice) error {
	rows, err := q.QueryContext(ctx, `
		SELECT COALESCE(product_id, ''), description, quantity, unit_price_cents, is_labor, total_cents
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return err
	}
	inv.Lines = make([]domain.InvoiceLine, 0, 8)
	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.ProductID, &line.Description, &line.Quantity, &line.UnitPriceCents, &line.IsLabor, &line.TotalCents); err != nil {
			rows.Close()
			return err
		}
		inv.Lines = append(inv.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT id, invoice_id, amount_cents, method, COALESCE(reference, ''), received_by, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	inv.Payments = make([]domain.Payment, 0, 2)
	for rows.Next() {
		var p domain.Payment
		var method string
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &method, &p.Reference, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return err
		}
		p.Method = domain.PaymentMethod(method)
		p.CreatedAt = p.CreatedAt.UTC()
		inv.Payments = append(inv.Payments, p)
	}
	return rows.Err()
}

func (s *Store) GetInvoice(ctx context.Context, organizationID string, invoiceID string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND organization_id = $2
	`, invoiceID, organizationID))
	if err != nil {
		return nil, err
	}
	if err := loadInvoiceDetail(ctx, s.db, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func lockInvoice(ctx context.Context, tx *sql.Tx, organizationID string, invoiceID string) (domain.Invoice, error) {
	inv, err := scanInvoice(tx.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, invoiceID, organizationID))
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := loadInvoiceDetail(ctx, tx, &inv); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, organizationID string, invoiceID string, status domain.InvoiceStatus, at time.Time) (*domain.Invoice, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := lockInvoice(ctx, tx, organizationID, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckInvoiceTransition(inv.Status, status); err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}
	inv.Status = status
	switch status {
	case domain.InvoiceSent:
		inv.SentAt = &at
	case domain.InvoiceCancelled:
		inv.CancelledAt = &at
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = $2, sent_at = $3, cancelled_at = $4
		WHERE id = $1
	`, inv.ID, string(inv.Status), nullTime(inv.SentAt), nullTime(inv.CancelledAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) RecordPayment(ctx context.Context, organizationID string, payment domain.Payment) (*domain.Invoice, error) {
	if payment.AmountCents < 1 || !payment.Method.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := lockInvoice(ctx, tx, organizationID, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := inv.ApplyPayment(payment, payment.CreatedAt); err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount_cents, method, reference, received_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, inv.ID, payment.AmountCents, string(payment.Method), nullIfEmpty(payment.Reference), payment.ReceivedBy, payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET paid_cents = $2, status = $3, paid_at = $4
		WHERE id = $1
	`, inv.ID, inv.PaidCents, string(inv.Status), nullTime(inv.PaidAt))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}
