package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/xid"
)

func (s *Service) GetOrganization(ctx context.Context, sess domain.Session) (domain.Organization, error) {
	if err := s.authorize(sess, authz.SettingsRead); err != nil {
		return domain.Organization{}, err
	}
	org, err := s.repo.GetOrganization(ctx, sess.OrganizationID)
	if err != nil {
		return domain.Organization{}, err
	}
	return *org, nil
}

// UpdateTaxRate sets the organization's sales tax as a fraction, e.g. "0.2".
func (s *Service) UpdateTaxRate(ctx context.Context, sess domain.Session, rate string) (domain.Organization, error) {
	if err := s.authorize(sess, authz.SettingsUpdate); err != nil {
		return domain.Organization{}, err
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(rate))
	if err != nil {
		return domain.Organization{}, invalid("tax_rate", "must be a decimal fraction")
	}
	if parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Organization{}, invalid("tax_rate", "must be between 0 and 1")
	}

	org, err := s.repo.UpdateOrganizationTaxRate(ctx, sess.OrganizationID, parsed)
	if err != nil {
		return domain.Organization{}, err
	}
	s.logAudit(ctx, sess, "tax_rate_update", "organization", org.ID, fmt.Sprintf("rate=%s", org.TaxRate))
	return *org, nil
}

func (s *Service) CreateCustomer(ctx context.Context, sess domain.Session, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if err := s.authorize(sess, authz.CustomersCreate); err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var v validator
	v.required(req.Name, "name")
	if req.Email != "" {
		_, err := mail.ParseAddress(req.Email)
		v.check(err == nil, "email", "is not a valid address")
	}
	v.check(req.Phone != "" || req.Email != "", "phone", "or email is required")
	if err := v.err(); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:             xid.New("cus"),
		OrganizationID: sess.OrganizationID,
		Name:           req.Name,
		Phone:          req.Phone,
		Email:          req.Email,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, sess, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	s.notify(ctx, sess, "/customers")
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, sess domain.Session, customerID string) (domain.Customer, error) {
	if err := s.authorize(sess, authz.CustomersRead); err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, sess.OrganizationID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, sess domain.Session, limit int) ([]domain.Customer, error) {
	if err := s.authorize(sess, authz.CustomersRead); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListCustomers(ctx, sess.OrganizationID, limit)
}

func (s *Service) CreateDevice(ctx context.Context, sess domain.Session, req domain.DeviceCreateRequest) (domain.Device, error) {
	if err := s.authorize(sess, authz.DevicesCreate); err != nil {
		return domain.Device{}, err
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Model = strings.TrimSpace(req.Model)
	req.SerialNumber = strings.ToUpper(strings.TrimSpace(req.SerialNumber))

	var v validator
	v.required(req.CustomerID, "customer_id")
	v.required(req.Brand, "brand")
	v.required(req.Model, "model")
	if err := v.err(); err != nil {
		return domain.Device{}, err
	}

	created, err := s.repo.CreateDevice(ctx, domain.Device{
		ID:             xid.New("dev"),
		OrganizationID: sess.OrganizationID,
		CustomerID:     req.CustomerID,
		Brand:          req.Brand,
		Model:          req.Model,
		SerialNumber:   req.SerialNumber,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Device{}, err
	}
	s.logAudit(ctx, sess, "device_create", "device", created.ID, fmt.Sprintf("customer=%s,model=%s", created.CustomerID, created.Model))
	return *created, nil
}

func (s *Service) GetDevice(ctx context.Context, sess domain.Session, deviceID string) (domain.Device, error) {
	if err := s.authorize(sess, authz.DevicesRead); err != nil {
		return domain.Device{}, err
	}
	device, err := s.repo.GetDevice(ctx, sess.OrganizationID, deviceID)
	if err != nil {
		return domain.Device{}, err
	}
	return *device, nil
}

func (s *Service) CreateProduct(ctx context.Context, sess domain.Session, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.authorize(sess, authz.InventoryCreate); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)

	var v validator
	v.required(req.SKU, "sku")
	v.required(req.Name, "name")
	v.check(req.PriceCents >= 0, "price_cents", "must not be negative")
	v.check(req.CostCents >= 0, "cost_cents", "must not be negative")
	v.check(req.InitialStock >= 0, "initial_stock", "must not be negative")
	v.check(req.InitialStock == 0 || sess.ActiveStoreID != "", "initial_stock", "needs an active store")
	if err := v.err(); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             xid.New("prod"),
		OrganizationID: sess.OrganizationID,
		SKU:            req.SKU,
		Name:           req.Name,
		PriceCents:     req.PriceCents,
		CostCents:      req.CostCents,
		Active:         true,
		CreatedAt:      s.now(),
	}, sess.ActiveStoreID, req.InitialStock)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, sess, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, req.InitialStock))
	s.notify(ctx, sess, "/inventory")
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, sess domain.Session) ([]domain.Product, error) {
	if err := s.authorize(sess, authz.InventoryRead); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, sess.OrganizationID)
}

func (s *Service) ListStock(ctx context.Context, sess domain.Session, storeID string) (domain.StockListResponse, error) {
	if err := s.authorize(sess, authz.InventoryRead); err != nil {
		return domain.StockListResponse{}, err
	}
	storeID = s.activeStore(sess, storeID)
	if storeID == "" {
		return domain.StockListResponse{}, invalid("store_id", "is required")
	}
	items, err := s.repo.ListStock(ctx, sess.OrganizationID, storeID)
	if err != nil {
		return domain.StockListResponse{}, err
	}
	return domain.StockListResponse{StoreID: storeID, Items: items}, nil
}

// AdjustStock applies a manual correction. The configured policy applies
// unless the request asks for strict.
func (s *Service) AdjustStock(ctx context.Context, sess domain.Session, req domain.StockAdjustRequest) (domain.StockItem, error) {
	if err := s.authorize(sess, authz.InventoryUpdate); err != nil {
		return domain.StockItem{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.StoreID = s.activeStore(sess, req.StoreID)
	req.Reason = strings.TrimSpace(req.Reason)

	var v validator
	v.required(req.ProductID, "product_id")
	v.required(req.StoreID, "store_id")
	v.check(req.Delta != 0, "delta", "must not be zero")
	if err := v.err(); err != nil {
		return domain.StockItem{}, err
	}

	policy := s.stockPolicy
	if req.Strict {
		policy = domain.StockStrict
	}
	item, err := s.repo.AdjustStock(ctx, sess.OrganizationID, req.StoreID, req.ProductID, req.Delta, policy)
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, sess, "stock_adjust", "product", req.ProductID, fmt.Sprintf("store=%s,delta=%d,qty=%d,reason=%s", req.StoreID, req.Delta, item.Quantity, req.Reason))
	s.notify(ctx, sess, "/inventory")
	return *item, nil
}

func (s *Service) CreateSupplier(ctx context.Context, sess domain.Session, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersCreate); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, invalid("name", "is required")
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:             xid.New("sup"),
		OrganizationID: sess.OrganizationID,
		Name:           req.Name,
		Phone:          req.Phone,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, sess, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context, sess domain.Session) ([]domain.Supplier, error) {
	if err := s.authorize(sess, authz.PurchaseOrdersRead); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, sess.OrganizationID)
}
