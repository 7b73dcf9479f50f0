package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

const ticketColumns = `
	id, organization_id, store_id, number, customer_id, device_id, title,
	COALESCE(description, ''), status, priority, created_by, created_at, updated_at, completed_at`

func scanTicket(row interface{ Scan(...any) error }) (domain.Ticket, error) {
	var t domain.Ticket
	var status, priority string
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID,
		&t.OrganizationID,
		&t.StoreID,
		&t.Number,
		&t.CustomerID,
		&t.DeviceID,
		&t.Title,
		&t.Description,
		&status,
		&priority,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, store.ErrNotFound
		}
		return domain.Ticket{}, err
	}
	t.Status = domain.TicketStatus(status)
	t.Priority = domain.TicketPriority(priority)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}

func (s *Store) CreateTicket(ctx context.Context, ticket domain.Ticket, history domain.TicketHistory) (*domain.Ticket, error) {
	if ticket.OrganizationID == "" || ticket.Status != domain.TicketReceived {
		return nil, store.ErrInvalidTransaction
	}
	if ticket.ID == "" {
		ticket.ID = xid.New("tkt")
	}
	if history.ID == "" {
		history.ID = xid.New("tkh")
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	if ticket.UpdatedAt.IsZero() {
		ticket.UpdatedAt = ticket.CreatedAt
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = ticket.CreatedAt
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getStore(ctx, tx, ticket.OrganizationID, ticket.StoreID); err != nil {
		return nil, err
	}
	var found int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*)
		FROM customers c
		JOIN devices d ON d.id = $3 AND d.organization_id = c.organization_id
		WHERE c.id = $2 AND c.organization_id = $1
	`, ticket.OrganizationID, ticket.CustomerID, ticket.DeviceID).Scan(&found)
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: customer %s or device %s", store.ErrNotFound, ticket.CustomerID, ticket.DeviceID)
	}

	ticket.Number, err = nextNumber(ctx, tx, ticket.OrganizationID, domain.TicketNumberPrefix)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (
			id, organization_id, store_id, number, customer_id, device_id, title, description,
			status, priority, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		ticket.ID,
		ticket.OrganizationID,
		ticket.StoreID,
		ticket.Number,
		ticket.CustomerID,
		ticket.DeviceID,
		ticket.Title,
		nullIfEmpty(ticket.Description),
		string(ticket.Status),
		string(ticket.Priority),
		ticket.CreatedBy,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	history.TicketID = ticket.ID
	history.FromStatus = nil
	if err := insertTicketHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := ticket
	return &saved, nil
}

func insertTicketHistory(ctx context.Context, tx *sql.Tx, h domain.TicketHistory) error {
	var from any
	if h.FromStatus != nil {
		from = string(*h.FromStatus)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_history (id, ticket_id, from_status, to_status, actor_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, h.ID, h.TicketID, from, string(h.ToStatus), h.ActorID, nullIfEmpty(h.Note), h.CreatedAt)
	return err
}

func (s *Store) GetTicket(ctx context.Context, organizationID string, ticketID string) (*domain.Ticket, error) {
	ticket, err := scanTicket(s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1 AND organization_id = $2
	`, ticketID, organizationID))
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func lockTicket(ctx context.Context, tx *sql.Tx, organizationID string, ticketID string) (domain.Ticket, error) {
	return scanTicket(tx.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, ticketID, organizationID))
}

func (s *Store) UpdateTicketStatus(ctx context.Context, organizationID string, expectedFrom domain.TicketStatus, history domain.TicketHistory) (*domain.Ticket, error) {
	if history.ID == "" {
		history.ID = xid.New("tkh")
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ticket, err := lockTicket(ctx, tx, organizationID, history.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != expectedFrom {
		return nil, fmt.Errorf("%w: ticket %s moved to %s concurrently", store.ErrConflict, ticket.ID, ticket.Status)
	}

	ticket.ApplyStatus(history.ToStatus, history.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		UPDATE tickets
		SET status = $2, updated_at = $3, completed_at = $4
		WHERE id = $1
	`, ticket.ID, string(ticket.Status), ticket.UpdatedAt, nullTime(ticket.CompletedAt))
	if err != nil {
		return nil, err
	}

	from := expectedFrom
	history.FromStatus = &from
	if err := insertTicketHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (s *Store) ticketExists(ctx context.Context, organizationID string, ticketID string) error {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT true FROM tickets WHERE id = $1 AND organization_id = $2
	`, ticketID, organizationID).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) ListTicketHistory(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketHistory, error) {
	if err := s.ticketExists(ctx, organizationID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, from_status, to_status, actor_id, COALESCE(note, ''), created_at
		FROM ticket_history
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TicketHistory, 0, 8)
	for rows.Next() {
		var h domain.TicketHistory
		var from sql.NullString
		var to string
		if err := rows.Scan(&h.ID, &h.TicketID, &from, &to, &h.ActorID, &h.Note, &h.CreatedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			status := domain.TicketStatus(from.String)
			h.FromStatus = &status
		}
		h.ToStatus = domain.TicketStatus(to)
		h.CreatedAt = h.CreatedAt.UTC()
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateTicketAssignment(ctx context.Context, organizationID string, assignment domain.TicketAssignment) (*domain.TicketAssignment, error) {
	if err := s.ticketExists(ctx, organizationID, assignment.TicketID); err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, organizationID, assignment.UserID); err != nil {
		return nil, fmt.Errorf("%w: user %s", err, assignment.UserID)
	}
	if assignment.ID == "" {
		assignment.ID = xid.New("tka")
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_assignments (id, ticket_id, user_id, assigned_by, assigned_at)
		VALUES ($1,$2,$3,$4,$5)
	`, assignment.ID, assignment.TicketID, assignment.UserID, assignment.AssignedBy, assignment.AssignedAt)
	if err != nil {
		return nil, err
	}
	saved := assignment
	return &saved, nil
}

func (s *Store) ListTicketAssignments(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketAssignment, error) {
	if err := s.ticketExists(ctx, organizationID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, user_id, assigned_by, assigned_at
		FROM ticket_assignments
		WHERE ticket_id = $1
		ORDER BY assigned_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TicketAssignment, 0, 4)
	for rows.Next() {
		var a domain.TicketAssignment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.UserID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		a.AssignedAt = a.AssignedAt.UTC()
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateTicketNote(ctx context.Context, organizationID string, note domain.TicketNote) (*domain.TicketNote, error) {
	if strings.TrimSpace(note.Body) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if err := s.ticketExists(ctx, organizationID, note.TicketID); err != nil {
		return nil, err
	}
	if note.ID == "" {
		note.ID = xid.New("tkn")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_notes (id, ticket_id, author_id, body, internal, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, note.ID, note.TicketID, note.AuthorID, note.Body, note.Internal, note.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := note
	return &saved, nil
}

func (s *Store) ListTicketNotes(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketNote, error) {
	if err := s.ticketExists(ctx, organizationID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, author_id, body, internal, created_at
		FROM ticket_notes
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TicketNote, 0, 8)
	for rows.Next() {
		var n domain.TicketNote
		if err := rows.Scan(&n.ID, &n.TicketID, &n.AuthorID, &n.Body, &n.Internal, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AddTicketLineItem(ctx context.Context, organizationID string, item domain.TicketLineItem, policy domain.StockPolicy) (*domain.TicketLineItem, error) {
	if item.Quantity < 1 || item.UnitPriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if item.ID == "" {
		item.ID = xid.New("tkl")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ticket, err := lockTicket(ctx, tx, organizationID, item.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.Terminal() {
		return nil, fmt.Errorf("%w: ticket %s is %s", store.ErrConflict, ticket.ID, ticket.Status)
	}
	if item.ProductID != "" {
		var ok bool
		err := tx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE id = $1 AND organization_id = $2
		`, item.ProductID, organizationID).Scan(&ok)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if err != nil {
			return nil, err
		}
	}
	if item.MovesStock() {
		if _, err := adjustStockTx(ctx, tx, organizationID, ticket.StoreID, item.ProductID, -item.Quantity, policy); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticket_line_items (id, ticket_id, product_id, description, quantity, unit_price_cents, is_labor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, item.ID, item.TicketID, nullIfEmpty(item.ProductID), item.Description, item.Quantity, item.UnitPriceCents, item.IsLabor, item.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := item
	return &saved, nil
}

func (s *Store) RemoveTicketLineItem(ctx context.Context, organizationID string, ticketID string, lineItemID string, policy domain.StockPolicy) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ticket, err := lockTicket(ctx, tx, organizationID, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status.Terminal() {
		return fmt.Errorf("%w: ticket %s is %s", store.ErrConflict, ticket.ID, ticket.Status)
	}

	var line domain.TicketLineItem
	var productID sql.NullString
	err = tx.QueryRowContext(ctx, `
		DELETE FROM ticket_line_items
		WHERE id = $1 AND ticket_id = $2
		RETURNING product_id, quantity, is_labor
	`, lineItemID, ticketID).Scan(&productID, &line.Quantity, &line.IsLabor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	line.ProductID = productID.String
	if line.MovesStock() {
		if _, err := adjustStockTx(ctx, tx, organizationID, ticket.StoreID, line.ProductID, line.Quantity, policy); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListTicketLineItems(ctx context.Context, organizationID string, ticketID string) ([]domain.TicketLineItem, error) {
	if err := s.ticketExists(ctx, organizationID, ticketID); err != nil {
		return nil, err
	}
	return listTicketLineItems(ctx, s.db, ticketID)
}

func listTicketLineItems(ctx context.Context, q queryer, ticketID string) ([]domain.TicketLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, ticket_id, COALESCE(product_id, ''), description, quantity, unit_price_cents, is_labor, created_at
		FROM ticket_line_items
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TicketLineItem, 0, 8)
	for rows.Next() {
		var l domain.TicketLineItem
		if err := rows.Scan(&l.ID, &l.TicketID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPriceCents, &l.IsLabor, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = l.CreatedAt.UTC()
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
