package service

import (
	"context"
	"fmt"
	"strings"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/xid"
)

func (s *Service) CreatePurchaseOrder(ctx context.Context, sess domain.Session, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersCreate); err != nil {
		return domain.PurchaseOrder{}, err
	}

	req.StoreID = s.activeStore(sess, req.StoreID)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.Notes = strings.TrimSpace(req.Notes)

	var v validator
	v.required(req.StoreID, "store_id")
	v.required(req.SupplierID, "supplier_id")
	v.check(len(req.Items) > 0, "items", "must not be empty")
	for i, item := range req.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		v.required(item.ProductID, prefix+"product_id")
		v.check(item.Quantity >= 1, prefix+"quantity", "must be at least 1")
		v.check(item.UnitCostCents >= 0, prefix+"unit_cost_cents", "must not be negative")
	}
	if err := v.err(); err != nil {
		return domain.PurchaseOrder{}, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.PurchaseOrderItem{
			ID:            xid.New("poi"),
			ProductID:     strings.TrimSpace(item.ProductID),
			Quantity:      item.Quantity,
			UnitCostCents: item.UnitCostCents,
		})
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:             xid.New("po"),
		OrganizationID: sess.OrganizationID,
		StoreID:        req.StoreID,
		SupplierID:     req.SupplierID,
		Notes:          req.Notes,
		CreatedBy:      sess.UserID,
		CreatedAt:      s.now(),
		Items:          items,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, sess, "po_create", "purchase_order", created.ID, fmt.Sprintf("number=%s,supplier=%s,total=%d", created.Number, created.SupplierID, created.TotalCostCents))
	s.notify(ctx, sess, "/purchase-orders")
	return *created, nil
}

func (s *Service) SubmitPurchaseOrder(ctx context.Context, sess domain.Session, purchaseOrderID string) (domain.PurchaseOrder, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersUpdate); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.SubmitPurchaseOrder(ctx, sess.OrganizationID, purchaseOrderID, s.now())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, sess, "po_submit", "purchase_order", po.ID, fmt.Sprintf("number=%s", po.Number))
	s.notify(ctx, sess, "/purchase-orders", "/purchase-orders/"+po.ID)
	return *po, nil
}

// ReceivePurchaseOrder books delivered quantities against the order. Receipts
// accumulate, so the same item may arrive over several calls.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, sess domain.Session, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrder, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersUpdate); err != nil {
		return domain.PurchaseOrder{}, err
	}

	var v validator
	v.check(len(req.Items) > 0, "items", "must not be empty")
	for i, line := range req.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		v.required(line.PurchaseOrderItemID, prefix+"po_item_id")
		v.check(line.ReceivedQty >= 1, prefix+"received_qty", "must be at least 1")
	}
	if err := v.err(); err != nil {
		return domain.PurchaseOrder{}, err
	}

	po, err := s.repo.ReceivePurchaseOrder(ctx, sess.OrganizationID, purchaseOrderID, req.Items, s.now())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	received := 0
	for _, line := range req.Items {
		received += line.ReceivedQty
	}
	s.logAudit(ctx, sess, "po_receive", "purchase_order", po.ID, fmt.Sprintf("number=%s,units=%d,status=%s", po.Number, received, po.Status))
	s.publish(ctx, sess, events.PurchaseOrderReceived, po.ID, map[string]any{
		"number":   po.Number,
		"store_id": po.StoreID,
		"status":   po.Status,
		"units":    received,
	})
	s.notify(ctx, sess, "/purchase-orders", "/purchase-orders/"+po.ID, "/inventory")
	return *po, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, sess domain.Session, purchaseOrderID string) (domain.PurchaseOrder, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersUpdate); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.CancelPurchaseOrder(ctx, sess.OrganizationID, purchaseOrderID, s.now())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(ctx, sess, "po_cancel", "purchase_order", po.ID, fmt.Sprintf("number=%s", po.Number))
	s.notify(ctx, sess, "/purchase-orders", "/purchase-orders/"+po.ID)
	return *po, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, sess domain.Session, purchaseOrderID string) (domain.PurchaseOrder, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersRead); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, sess.OrganizationID, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, sess domain.Session, storeID string, status string, limit int) (domain.PurchaseOrderListResponse, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersRead); err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}

	filter := domain.PurchaseOrderStatus(strings.ToUpper(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return domain.PurchaseOrderListResponse{}, invalid("status", "is not a purchase order status")
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	orders, err := s.repo.ListPurchaseOrders(ctx, sess.OrganizationID, strings.TrimSpace(storeID), filter, limit)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: orders}, nil
}
