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

// CreateSaleTransaction rings up a counter sale at the active store. Product
// lines without a price use the catalog price. The sale and its stock
// movements commit together.
func (s *Service) CreateSaleTransaction(ctx context.Context, sess domain.Session, req domain.SaleCreateRequest) (domain.SaleTransaction, error) {
	if err := s.authorize(sess, authz.SalesCreate); err != nil {
		return domain.SaleTransaction{}, err
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod))))
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)

	var v validator
	v.check(sess.ActiveStoreID != "", "store_id", "session has no active store")
	v.check(len(req.Lines) > 0, "lines", "must not be empty")
	v.check(req.DiscountCents >= 0, "discount_cents", "must not be negative")
	v.check(req.PaymentMethod.Valid(), "payment_method", "must be one of CASH, CARD, TRANSFER, OTHER")
	for i, line := range req.Lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		productID := strings.TrimSpace(line.ProductID)
		v.check(line.Quantity >= 1, prefix+"quantity", "must be at least 1")
		v.check(line.UnitPriceCents == nil || *line.UnitPriceCents >= 0, prefix+"unit_price_cents", "must not be negative")
		v.check(productID != "" || line.UnitPriceCents != nil, prefix+"unit_price_cents", "is required without a product")
		v.check(productID != "" || strings.TrimSpace(line.Description) != "", prefix+"description", "is required without a product")
	}
	if err := v.err(); err != nil {
		return domain.SaleTransaction{}, err
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	subtotal := int64(0)
	for _, in := range req.Lines {
		line := domain.SaleLine{
			ProductID:   strings.TrimSpace(in.ProductID),
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
		}
		if line.ProductID != "" {
			product, err := s.repo.GetProduct(ctx, sess.OrganizationID, line.ProductID)
			if err != nil {
				return domain.SaleTransaction{}, err
			}
			if !product.Active {
				return domain.SaleTransaction{}, invalid("lines.product_id", fmt.Sprintf("product %s is inactive", product.SKU))
			}
			line.UnitPriceCents = product.PriceCents
			if line.Description == "" {
				line.Description = product.Name
			}
		}
		if in.UnitPriceCents != nil {
			line.UnitPriceCents = *in.UnitPriceCents
		}
		line.TotalCents = int64(line.Quantity) * line.UnitPriceCents
		subtotal += line.TotalCents
		lines = append(lines, line)
	}
	if req.DiscountCents > subtotal {
		return domain.SaleTransaction{}, invalid("discount_cents", "must not exceed subtotal")
	}

	org, err := s.repo.GetOrganization(ctx, sess.OrganizationID)
	if err != nil {
		return domain.SaleTransaction{}, err
	}
	taxable := subtotal - req.DiscountCents
	tax := domain.ComputeTax(taxable, org.TaxRate)

	created, err := s.repo.CreateSale(ctx, domain.SaleTransaction{
		ID:               xid.New("sale"),
		OrganizationID:   sess.OrganizationID,
		StoreID:          sess.ActiveStoreID,
		CustomerID:       req.CustomerID,
		SubtotalCents:    subtotal,
		DiscountCents:    req.DiscountCents,
		TaxRate:          org.TaxRate,
		TaxCents:         tax,
		TotalCents:       taxable + tax,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		CreatedBy:        sess.UserID,
		CreatedAt:        s.now(),
		Lines:            lines,
	}, s.stockPolicy)
	if err != nil {
		return domain.SaleTransaction{}, err
	}

	s.logAudit(ctx, sess, "sale_create", "sale", created.ID, fmt.Sprintf("number=%s,total=%d,method=%s", created.Number, created.TotalCents, created.PaymentMethod))
	s.publish(ctx, sess, events.SaleCompleted, created.ID, map[string]any{
		"number":      created.Number,
		"store_id":    created.StoreID,
		"total_cents": created.TotalCents,
	})
	s.notify(ctx, sess, "/sales", "/inventory", "/dashboard")
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, sess domain.Session, saleID string) (domain.SaleTransaction, error) {
	if err := s.authorize(sess, authz.SalesRead); err != nil {
		return domain.SaleTransaction{}, err
	}
	sale, err := s.repo.GetSale(ctx, sess.OrganizationID, saleID)
	if err != nil {
		return domain.SaleTransaction{}, err
	}
	return *sale, nil
}
