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

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleTransaction, policy domain.StockPolicy) (*domain.SaleTransaction, error) {
	if sale.OrganizationID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	deltas := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if line.ProductID != "" {
			deltas[line.ProductID] -= line.Quantity
		}
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getStore(ctx, tx, sale.OrganizationID, sale.StoreID); err != nil {
		return nil, err
	}
	if sale.CustomerID != "" {
		var ok bool
		err := tx.QueryRowContext(ctx, `
			SELECT true FROM customers WHERE id = $1 AND organization_id = $2
		`, sale.CustomerID, sale.OrganizationID).Scan(&ok)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := adjustStockManyTx(ctx, tx, sale.OrganizationID, sale.StoreID, deltas, policy); err != nil {
		return nil, err
	}

	sale.Number, err = nextNumber(ctx, tx, sale.OrganizationID, domain.SaleNumberPrefix)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, organization_id, store_id, number, customer_id, subtotal_cents, discount_cents,
			tax_rate, tax_cents, total_cents, payment_method, payment_reference, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		sale.ID,
		sale.OrganizationID,
		sale.StoreID,
		sale.Number,
		nullIfEmpty(sale.CustomerID),
		sale.SubtotalCents,
		sale.DiscountCents,
		sale.TaxRate.String(),
		sale.TaxCents,
		sale.TotalCents,
		string(sale.PaymentMethod),
		nullIfEmpty(sale.PaymentReference),
		sale.CreatedBy,
		sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	for i, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, description, quantity, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, i, nullIfEmpty(line.ProductID), line.Description, line.Quantity, line.UnitPriceCents, line.TotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

func (s *Store) GetSale(ctx context.Context, organizationID string, saleID string) (*domain.SaleTransaction, error) {
	var sale domain.SaleTransaction
	var method string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, store_id, number, COALESCE(customer_id, ''), subtotal_cents,
		       discount_cents, tax_rate, tax_cents, total_cents, payment_method,
		       COALESCE(payment_reference, ''), created_by, created_at
		FROM sales
		WHERE id = $1 AND organization_id = $2
	`, saleID, organizationID).Scan(
		&sale.ID,
		&sale.OrganizationID,
		&sale.StoreID,
		&sale.Number,
		&sale.CustomerID,
		&sale.SubtotalCents,
		&sale.DiscountCents,
		&sale.TaxRate,
		&sale.TaxCents,
		&sale.TotalCents,
		&method,
		&sale.PaymentReference,
		&sale.CreatedBy,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(product_id, ''), description, quantity, unit_price_cents, total_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Lines = make([]domain.SaleLine, 0, 4)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Description, &line.Quantity, &line.UnitPriceCents, &line.TotalCents); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}
