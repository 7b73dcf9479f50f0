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

const purchaseOrderColumns = `
	id, organization_id, store_id, supplier_id, number, status, total_cost_cents,
	COALESCE(notes, ''), created_by, created_at, ordered_at, received_at, cancelled_at`

func scanPurchaseOrder(row interface{ Scan(...any) error }) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var status string
	var orderedAt, receivedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&po.ID,
		&po.OrganizationID,
		&po.StoreID,
		&po.SupplierID,
		&po.Number,
		&status,
		&po.TotalCostCents,
		&po.Notes,
		&po.CreatedBy,
		&po.CreatedAt,
		&orderedAt,
		&receivedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PurchaseOrder{}, store.ErrNotFound
		}
		return domain.PurchaseOrder{}, err
	}
	po.Status = domain.PurchaseOrderStatus(status)
	po.CreatedAt = po.CreatedAt.UTC()
	po.OrderedAt = timePtr(orderedAt)
	po.ReceivedAt = timePtr(receivedAt)
	po.CancelledAt = timePtr(cancelledAt)
	po.Items = []domain.PurchaseOrderItem{}
	return po, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.OrganizationID == "" || po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getStore(ctx, tx, po.OrganizationID, po.StoreID); err != nil {
		return nil, err
	}
	var ok bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM suppliers WHERE id = $1 AND organization_id = $2
	`, po.SupplierID, po.OrganizationID).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
	}
	if err != nil {
		return nil, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		if item.Quantity < 1 || item.UnitCostCents < 0 {
			return nil, store.ErrInvalidTransaction
		}
		err := tx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE id = $1 AND organization_id = $2
		`, item.ProductID, po.OrganizationID).Scan(&ok)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if item.ID == "" {
			item.ID = xid.New("poi")
		}
		item.PurchaseOrderID = po.ID
		item.ReceivedQty = 0
		items = append(items, item)
	}
	po.Items = items
	po.Status = domain.PurchaseOrderDraft
	po.TotalCostCents = domain.PurchaseOrderTotal(items)

	po.Number, err = nextNumber(ctx, tx, po.OrganizationID, domain.PurchaseOrderNumberPrefix)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (
			id, organization_id, store_id, supplier_id, number, status, total_cost_cents,
			notes, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		po.ID,
		po.OrganizationID,
		po.StoreID,
		po.SupplierID,
		po.Number,
		string(po.Status),
		po.TotalCostCents,
		nullIfEmpty(po.Notes),
		po.CreatedBy,
		po.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	for i, item := range po.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (id, purchase_order_id, position, product_id, quantity, unit_cost_cents, received_qty)
			VALUES ($1,$2,$3,$4,$5,$6,0)
		`, item.ID, po.ID, i, item.ProductID, item.Quantity, item.UnitCostCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := po
	return &saved, nil
}

func loadPurchaseOrderItems(ctx context.Context, q queryer, orders []domain.PurchaseOrder) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, po := range orders {
		ids = append(ids, po.ID)
		index[po.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, purchase_order_id, product_id, quantity, unit_cost_cents, received_qty
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY purchase_order_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.PurchaseOrderID, &item.ProductID, &item.Quantity, &item.UnitCostCents, &item.ReceivedQty); err != nil {
			return err
		}
		i := index[item.PurchaseOrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) GetPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE id = $1 AND organization_id = $2
	`, purchaseOrderID, organizationID))
	if err != nil {
		return nil, err
	}
	orders := []domain.PurchaseOrder{po}
	if err := loadPurchaseOrderItems(ctx, s.db, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, organizationID string, storeID string, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error) {
	var query strings.Builder
	query.WriteString(`SELECT ` + purchaseOrderColumns + ` FROM purchase_orders WHERE organization_id = $1`)
	args := []any{organizationID}
	if storeID != "" {
		args = append(args, storeID)
		fmt.Fprintf(&query, " AND store_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		fmt.Fprintf(&query, " AND status = $%d", len(args))
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PurchaseOrder, 0, 16)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadPurchaseOrderItems(ctx, s.db, result); err != nil {
		return nil, err
	}
	return result, nil
}

func lockPurchaseOrder(ctx context.Context, tx *sql.Tx, organizationID string, purchaseOrderID string) (domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(tx.QueryRowContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, purchaseOrderID, organizationID))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	orders := []domain.PurchaseOrder{po}
	if err := loadPurchaseOrderItems(ctx, tx, orders); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return orders[0], nil
}

func (s *Store) SubmitPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, orderedAt time.Time) (*domain.PurchaseOrder, error) {
	return s.setPurchaseOrderStatus(ctx, organizationID, purchaseOrderID, func(po *domain.PurchaseOrder) error {
		if po.Status != domain.PurchaseOrderDraft {
			return fmt.Errorf("%w: purchase order %s is %s", store.ErrConflict, po.ID, po.Status)
		}
		po.Status = domain.PurchaseOrderOrdered
		po.OrderedAt = &orderedAt
		return nil
	})
}

func (s *Store) CancelPurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, cancelledAt time.Time) (*domain.PurchaseOrder, error) {
	return s.setPurchaseOrderStatus(ctx, organizationID, purchaseOrderID, func(po *domain.PurchaseOrder) error {
		if po.Status != domain.PurchaseOrderDraft && po.Status != domain.PurchaseOrderOrdered {
			return fmt.Errorf("%w: purchase order %s is %s", store.ErrConflict, po.ID, po.Status)
		}
		po.Status = domain.PurchaseOrderCancelled
		po.CancelledAt = &cancelledAt
		return nil
	})
}

func (s *Store) setPurchaseOrderStatus(ctx context.Context, organizationID string, purchaseOrderID string, apply func(*domain.PurchaseOrder) error) (*domain.PurchaseOrder, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockPurchaseOrder(ctx, tx, organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if err := apply(&po); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, ordered_at = $3, cancelled_at = $4
		WHERE id = $1
	`, po.ID, string(po.Status), nullTime(po.OrderedAt), nullTime(po.CancelledAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, organizationID string, purchaseOrderID string, lines []domain.ReceiptLine, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockPurchaseOrder(ctx, tx, organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	deltas, err := po.ApplyReceipt(lines, receivedAt)
	if err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}

	for _, item := range po.Items {
		_, err := tx.ExecContext(ctx, `
			UPDATE purchase_order_items SET received_qty = $2 WHERE id = $1
		`, item.ID, item.ReceivedQty)
		if err != nil {
			return nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2, received_at = $3 WHERE id = $1
	`, po.ID, string(po.Status), nullTime(po.ReceivedAt))
	if err != nil {
		return nil, err
	}
	if err := adjustStockManyTx(ctx, tx, organizationID, po.StoreID, deltas, domain.StockPermissive); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &po, nil
}
