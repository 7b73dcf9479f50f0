package postgres

import (
	"context"
	"time"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/xid"
)

func (s *Store) GetDashboard(ctx context.Context, organizationID string, storeID string, from time.Time, to time.Time) (domain.Dashboard, error) {
	dash := domain.Dashboard{
		OrganizationID:  organizationID,
		StoreID:         storeID,
		TicketsByStatus: make(map[domain.TicketStatus]int),
		DepletedStock:   make([]domain.StockItem, 0, 8),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*)
		FROM tickets
		WHERE organization_id = $1
		GROUP BY status
	`, organizationID)
	if err != nil {
		return domain.Dashboard{}, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return domain.Dashboard{}, err
		}
		ts := domain.TicketStatus(status)
		dash.TicketsByStatus[ts] = count
		if ts.Open() {
			dash.OpenTickets += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Dashboard{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(sum(GREATEST(total_cents - paid_cents, 0)), 0)
		FROM invoices
		WHERE organization_id = $1 AND status NOT IN ('PAID', 'CANCELLED')
	`, organizationID).Scan(&dash.UnpaidInvoices, &dash.OutstandingInvoiceCents)
	if err != nil {
		return domain.Dashboard{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(sum(total_cents), 0)
		FROM sales
		WHERE organization_id = $1 AND store_id = $2 AND created_at >= $3 AND created_at < $4
	`, organizationID, storeID, from, to).Scan(&dash.SalesCount, &dash.SalesTotalCents)
	if err != nil {
		return domain.Dashboard{}, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT organization_id, store_id, product_id, quantity, updated_at
		FROM stock_items
		WHERE organization_id = $1 AND store_id = $2 AND quantity <= 0
		ORDER BY product_id
	`, organizationID, storeID)
	if err != nil {
		return domain.Dashboard{}, err
	}
	defer rows.Close()
	dash.DepletedStock, err = scanStockItems(rows)
	if err != nil {
		return domain.Dashboard{}, err
	}
	return dash, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, organization_id, store_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		entry.ID,
		entry.OrganizationID,
		nullIfEmpty(entry.StoreID),
		entry.ActorID,
		string(entry.ActorRole),
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		nullIfEmpty(entry.Detail),
		entry.CreatedAt,
	)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, organizationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, COALESCE(store_id, ''), actor_id, actor_role, action,
		       entity_type, entity_id, COALESCE(detail, ''), created_at
		FROM audit_logs
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, organizationID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		var role string
		if err := rows.Scan(
			&entry.ID,
			&entry.OrganizationID,
			&entry.StoreID,
			&entry.ActorID,
			&role,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.ActorRole = domain.Role(role)
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
