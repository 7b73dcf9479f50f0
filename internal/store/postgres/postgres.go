package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// beginTx opens a read-committed transaction; writers queue on row locks.
func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (s *Store) GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, tax_rate, created_at
		FROM organizations
		WHERE id = $1
	`, organizationID).Scan(&org.ID, &org.Name, &org.TaxRate, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

func (s *Store) UpdateOrganizationTaxRate(ctx context.Context, organizationID string, rate decimal.Decimal) (*domain.Organization, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, store.ErrInvalidTransaction
	}
	var org domain.Organization
	err := s.db.QueryRowContext(ctx, `
		UPDATE organizations
		SET tax_rate = $2
		WHERE id = $1
		RETURNING id, name, tax_rate, created_at
	`, organizationID, rate).Scan(&org.ID, &org.Name, &org.TaxRate, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

func (s *Store) GetStore(ctx context.Context, organizationID string, storeID string) (*domain.Store, error) {
	return getStore(ctx, s.db, organizationID, storeID)
}

func getStore(ctx context.Context, q queryer, organizationID string, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := q.QueryRowContext(ctx, `
		SELECT id, organization_id, name, created_at
		FROM stores
		WHERE id = $1 AND organization_id = $2
	`, storeID, organizationID).Scan(&st.ID, &st.OrganizationID, &st.Name, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, storeID)
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, default_store_id, email, name, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, user.ID, user.OrganizationID, nullIfEmpty(user.DefaultStoreID), user.Email, user.Name, user.PasswordHash, string(user.Role), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %s already registered", store.ErrConflict, user.Email)
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := user
	return &saved, nil
}

const userColumns = `id, organization_id, COALESCE(default_store_id, ''), email, name, password_hash, role, active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var role string
	if err := row.Scan(&user.ID, &user.OrganizationID, &user.DefaultStoreID, &user.Email, &user.Name, &user.PasswordHash, &role, &user.Active, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.Role = domain.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, organizationID string, userID string) (*domain.UserAccount, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND organization_id = $2
	`, userID, organizationID))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OrganizationID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, organization_id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.OrganizationID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := customer
	return &saved, nil
}

func (s *Store) GetCustomer(ctx context.Context, organizationID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		WHERE id = $1 AND organization_id = $2
	`, customerID, organizationID).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, organizationID string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		WHERE organization_id = $1
		ORDER BY name, id
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateDevice(ctx context.Context, device domain.Device) (*domain.Device, error) {
	if device.OrganizationID == "" || device.CustomerID == "" || strings.TrimSpace(device.Model) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if device.ID == "" {
		device.ID = xid.New("dev")
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id FROM customers WHERE id = $1
	`, device.CustomerID).Scan(&owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if owner != device.OrganizationID {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, device.CustomerID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (id, organization_id, customer_id, brand, model, serial_number, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, device.ID, device.OrganizationID, device.CustomerID, device.Brand, device.Model, nullIfEmpty(device.SerialNumber), device.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := device
	return &saved, nil
}

func (s *Store) GetDevice(ctx context.Context, organizationID string, deviceID string) (*domain.Device, error) {
	var d domain.Device
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, customer_id, brand, model, COALESCE(serial_number, ''), created_at
		FROM devices
		WHERE id = $1 AND organization_id = $2
	`, deviceID, organizationID).Scan(&d.ID, &d.OrganizationID, &d.CustomerID, &d.Brand, &d.Model, &d.SerialNumber, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// CreateProduct inserts product and, when initialStock is positive, its
// opening stock row at storeID in the same transaction.
func (s *Store) CreateProduct(ctx context.Context, product domain.Product, storeID string, initialStock int) (*domain.Product, error) {
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.OrganizationID == "" || product.SKU == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || initialStock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if initialStock > 0 {
		if _, err := getStore(ctx, tx, product.OrganizationID, storeID); err != nil {
			return nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, organization_id, sku, name, price_cents, cost_cents, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.OrganizationID, product.SKU, product.Name, product.PriceCents, product.CostCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if initialStock > 0 {
		if _, err := adjustStockTx(ctx, tx, product.OrganizationID, storeID, product.ID, initialStock, domain.StockPermissive); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, organizationID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, sku, name, price_cents, cost_cents, active, created_at
		FROM products
		WHERE id = $1 AND organization_id = $2
	`, productID, organizationID).Scan(&p.ID, &p.OrganizationID, &p.SKU, &p.Name, &p.PriceCents, &p.CostCents, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, organizationID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, sku, name, price_cents, cost_cents, active, created_at
		FROM products
		WHERE organization_id = $1 AND active = true
		ORDER BY sku
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.SKU, &p.Name, &p.PriceCents, &p.CostCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.OrganizationID == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, organization_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.OrganizationID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) ListSuppliers(ctx context.Context, organizationID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		WHERE organization_id = $1
		ORDER BY name, id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.OrganizationID, &sup.Name, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		result = append(result, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// nextNumber hands out the next document number for prefix inside tx.
func nextNumber(ctx context.Context, tx *sql.Tx, organizationID string, prefix string) (string, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO document_sequences (organization_id, prefix, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (organization_id, prefix)
		DO UPDATE SET next_number = document_sequences.next_number + 1
		RETURNING next_number
	`, organizationID, prefix).Scan(&next)
	if err != nil {
		return "", err
	}
	return domain.FormatNumber(prefix, next), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}
