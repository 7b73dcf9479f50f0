package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
)

func (s *Store) ListStock(ctx context.Context, organizationID string, storeID string) ([]domain.StockItem, error) {
	if _, err := getStore(ctx, s.db, organizationID, storeID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, store_id, product_id, quantity, updated_at
		FROM stock_items
		WHERE organization_id = $1 AND store_id = $2
		ORDER BY product_id
	`, organizationID, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStockItems(rows)
}

func scanStockItems(rows *sql.Rows) ([]domain.StockItem, error) {
	result := make([]domain.StockItem, 0, 32)
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.OrganizationID, &item.StoreID, &item.ProductID, &item.Quantity, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.UpdatedAt = item.UpdatedAt.UTC()
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, organizationID string, storeID string, productID string, delta int, policy domain.StockPolicy) (*domain.StockItem, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getStore(ctx, tx, organizationID, storeID); err != nil {
		return nil, err
	}
	item, err := adjustStockTx(ctx, tx, organizationID, storeID, productID, delta, policy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

// adjustStockTx applies delta to one stock row inside tx. The caller has
// already checked that the store belongs to the organization. Existing rows
// take an in-place increment; a missing row starts at max(delta, 0).
func adjustStockTx(ctx context.Context, tx *sql.Tx, organizationID string, storeID string, productID string, delta int, policy domain.StockPolicy) (domain.StockItem, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT true FROM products WHERE id = $1 AND organization_id = $2
	`, productID, organizationID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return domain.StockItem{}, err
	}

	current := 0
	err = tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock_items
		WHERE organization_id = $1 AND store_id = $2 AND product_id = $3
		FOR UPDATE
	`, organizationID, storeID, productID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return domain.StockItem{}, err
	}

	next, ok := domain.NextStockQuantity(current, exists, delta, policy)
	if !ok {
		return domain.StockItem{}, fmt.Errorf("%w: product %s has %d, needs %d", store.ErrInsufficientStock, productID, current, -delta)
	}

	item := domain.StockItem{OrganizationID: organizationID, StoreID: storeID, ProductID: productID}
	if exists {
		err = tx.QueryRowContext(ctx, `
			UPDATE stock_items
			SET quantity = quantity + $4, updated_at = now()
			WHERE organization_id = $1 AND store_id = $2 AND product_id = $3
			RETURNING quantity, updated_at
		`, organizationID, storeID, productID, delta).Scan(&item.Quantity, &item.UpdatedAt)
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO stock_items (organization_id, store_id, product_id, quantity, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (organization_id, store_id, product_id)
			DO UPDATE SET quantity = stock_items.quantity + $5, updated_at = now()
			RETURNING quantity, updated_at
		`, organizationID, storeID, productID, next, delta).Scan(&item.Quantity, &item.UpdatedAt)
	}
	if err != nil {
		return domain.StockItem{}, err
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

// adjustStockManyTx applies deltas keyed by product, in sorted product order.
func adjustStockManyTx(ctx context.Context, tx *sql.Tx, organizationID string, storeID string, deltas map[string]int, policy domain.StockPolicy) error {
	if len(deltas) == 0 {
		return nil
	}
	if _, err := getStore(ctx, tx, organizationID, storeID); err != nil {
		return err
	}
	for _, productID := range sortedKeys(deltas) {
		if _, err := adjustStockTx(ctx, tx, organizationID, storeID, productID, deltas[productID], policy); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
