package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

const (
	DemoOrganizationID = "org-demo"
	DemoStoreID        = "store-main"
)

type stockKey struct {
	organizationID string
	storeID        string
	productID      string
}

type Store struct {
	mu                sync.RWMutex
	organizations     map[string]domain.Organization
	stores            map[string]domain.Store
	usersByID         map[string]domain.UserAccount
	customers         map[string]domain.Customer
	devices           map[string]domain.Device
	products          map[string]domain.Product
	stock             map[stockKey]domain.StockItem
	suppliers         map[string]domain.Supplier
	tickets           map[string]domain.Ticket
	ticketHistory     map[string][]domain.TicketHistory
	ticketAssignments map[string][]domain.TicketAssignment
	ticketNotes       map[string][]domain.TicketNote
	ticketLines       map[string][]domain.TicketLineItem
	purchaseOrders    map[string]domain.PurchaseOrder
	invoices          map[string]domain.Invoice
	sales             map[string]domain.SaleTransaction
	sequences         map[string]int64
	auditLogs         []domain.AuditLog
}

func New() *Store {
	return &Store{
		organizations:     make(map[string]domain.Organization),
		stores:            make(map[string]domain.Store),
		usersByID:         make(map[string]domain.UserAccount),
		customers:         make(map[string]domain.Customer),
		devices:           make(map[string]domain.Device),
		products:          make(map[string]domain.Product),
		stock:             make(map[stockKey]domain.StockItem),
		suppliers:         make(map[string]domain.Supplier),
		tickets:           make(map[string]domain.Ticket),
		ticketHistory:     make(map[string][]domain.TicketHistory),
		ticketAssignments: make(map[string][]domain.TicketAssignment),
		ticketNotes:       make(map[string][]domain.TicketNote),
		ticketLines:       make(map[string][]domain.TicketLineItem),
		purchaseOrders:    make(map[string]domain.PurchaseOrder),
		invoices:          make(map[string]domain.Invoice),
		sales:             make(map[string]domain.SaleTransaction),
		sequences:         make(map[string]int64),
		auditLogs:         make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store holding one demo organization with a single shop,
// one user per role, a few parts in stock and a supplier.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.AddOrganization(domain.Organization{
		ID:        DemoOrganizationID,
		Name:      "Demo Repair Co",
		TaxRate:   decimal.RequireFromString("0.2"),
		CreatedAt: now,
	}, domain.Store{ID: DemoStoreID, Name: "Main Street", CreatedAt: now})

	for _, user := range seedUsers(now) {
		s.usersByID[user.ID] = user
	}

	for _, p := range []domain.Product{
		{ID: "prod-screen-ip13", SKU: "SCR-IP13", Name: "iPhone 13 screen assembly", PriceCents: 18900, CostCents: 9500},
		{ID: "prod-battery-ip12", SKU: "BAT-IP12", Name: "iPhone 12 battery", PriceCents: 6900, CostCents: 2400},
		{ID: "prod-port-usbc", SKU: "PRT-USBC", Name: "USB-C charging port", PriceCents: 3900, CostCents: 900},
		{ID: "prod-glass-s22", SKU: "GLS-S22", Name: "Galaxy S22 tempered glass", PriceCents: 1900, CostCents: 300},
	} {
		p.OrganizationID = DemoOrganizationID
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
		key := stockKey{organizationID: DemoOrganizationID, storeID: DemoStoreID, productID: p.ID}
		s.stock[key] = domain.StockItem{
			OrganizationID: DemoOrganizationID,
			StoreID:        DemoStoreID,
			ProductID:      p.ID,
			Quantity:       12,
			UpdatedAt:      now,
		}
	}

	s.suppliers["sup-partsdirect"] = domain.Supplier{
		ID:             "sup-partsdirect",
		OrganizationID: DemoOrganizationID,
		Name:           "Parts Direct",
		Phone:          "+44 20 7946 0000",
		CreatedAt:      now,
	}

	return s
}

// AddOrganization registers an organization and its stores.
func (s *Store) AddOrganization(org domain.Organization, stores ...domain.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.organizations[org.ID] = org
	for _, st := range stores {
		st.OrganizationID = org.ID
		if st.CreatedAt.IsZero() {
			st.CreatedAt = org.CreatedAt
		}
		s.stores[st.ID] = st
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from SEED_PASSWORD;
// a hardcoded default is used with a warning when it is unset.
func seedUsers(now time.Time) []domain.UserAccount {
	password := envOr("SEED_PASSWORD", "fixdesk-dev")
	if os.Getenv("SEED_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	users := make([]domain.UserAccount, 0, 4)
	for _, u := range []struct {
		id    string
		email string
		name  string
		role  domain.Role
	}{
		{"usr-admin", "admin@fixdesk.local", "Ada Admin", domain.RoleAdmin},
		{"usr-manager", "manager@fixdesk.local", "Max Manager", domain.RoleManager},
		{"usr-tech", "tech@fixdesk.local", "Tess Technician", domain.RoleTechnician},
		{"usr-staff", "staff@fixdesk.local", "Sam Staff", domain.RoleStaff},
	} {
		users = append(users, domain.UserAccount{
			ID:             u.id,
			OrganizationID: DemoOrganizationID,
			DefaultStoreID: DemoStoreID,
			Email:          u.email,
			Name:           u.name,
			PasswordHash:   string(hash),
			Role:           u.role,
			Active:         true,
			CreatedAt:      now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetOrganization(_ context.Context, organizationID string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[organizationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &org, nil
}

func (s *Store) UpdateOrganizationTaxRate(_ context.Context, organizationID string, rate decimal.Decimal) (*domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.organizations[organizationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, store.ErrInvalidTransaction
	}
	org.TaxRate = rate
	s.organizations[organizationID] = org
	return &org, nil
}

func (s *Store) GetStore(_ context.Context, organizationID string, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok || st.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" || !user.Role.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.organizations[user.OrganizationID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.usersByID {
		if existing.Email == user.Email {
			return nil, fmt.Errorf("%w: email %s already registered", store.ErrConflict, user.Email)
		}
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByID[user.ID] = user
	saved := user
	return &saved, nil
}

func (s *Store) GetUser(_ context.Context, organizationID string, userID string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[userID]
	if !ok || user.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.usersByID {
		if user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.OrganizationID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	saved := customer
	return &saved, nil
}

func (s *Store) GetCustomer(_ context.Context, organizationID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok || customer.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, organizationID string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if customer.OrganizationID == organizationID {
			result = append(result, customer)
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if c := cmpString(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateDevice(_ context.Context, device domain.Device) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.OrganizationID == "" || device.CustomerID == "" || strings.TrimSpace(device.Model) == "" {
		return nil, store.ErrInvalidTransaction
	}
	customer, ok := s.customers[device.CustomerID]
	if !ok || customer.OrganizationID != device.OrganizationID {
		return nil, store.ErrNotFound
	}
	if device.ID == "" {
		device.ID = xid.New("dev")
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	s.devices[device.ID] = device
	saved := device
	return &saved, nil
}

func (s *Store) GetDevice(_ context.Context, organizationID string, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok || device.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return &device, nil
}

// CreateProduct saves product and, when initialStock is positive, its
// opening stock row at storeID. Either both are written or neither.
func (s *Store) CreateProduct(_ context.Context, product domain.Product, storeID string, initialStock int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.OrganizationID == "" || product.SKU == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || initialStock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if initialStock > 0 {
		st, ok := s.stores[storeID]
		if !ok || st.OrganizationID != product.OrganizationID {
			return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, storeID)
		}
	}
	for _, existing := range s.products {
		if existing.OrganizationID == product.OrganizationID && existing.SKU == product.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	if initialStock > 0 {
		plan, err := s.planStockLocked(product.OrganizationID, storeID, map[string]int{product.ID: initialStock}, domain.StockPermissive)
		if err != nil {
			delete(s.products, product.ID)
			return nil, err
		}
		s.commitStockLocked(plan)
	}
	saved := product
	return &saved, nil
}

func (s *Store) GetProduct(_ context.Context, organizationID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok || product.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, organizationID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.OrganizationID == organizationID && product.Active {
			result = append(result, product)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.SKU, b.SKU)
	})
	return result, nil
}

func (s *Store) ListStock(_ context.Context, organizationID string, storeID string) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok || st.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	result := make([]domain.StockItem, 0, 32)
	for key, item := range s.stock {
		if key.organizationID == organizationID && key.storeID == storeID {
			result = append(result, item)
		}
	}
	slices.SortFunc(result, func(a, b domain.StockItem) int {
		return cmpString(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, organizationID string, storeID string, productID string, delta int, policy domain.StockPolicy) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planStockLocked(organizationID, storeID, map[string]int{productID: delta}, policy)
	if err != nil {
		return nil, err
	}
	s.commitStockLocked(plan)
	item := plan[stockKey{organizationID: organizationID, storeID: storeID, productID: productID}]
	return &item, nil
}

// planStockLocked computes the stock rows that result from applying deltas
// (keyed by product) at one store, without writing anything.
func (s *Store) planStockLocked(organizationID string, storeID string, deltas map[string]int, policy domain.StockPolicy) (map[stockKey]domain.StockItem, error) {
	st, ok := s.stores[storeID]
	if !ok || st.OrganizationID != organizationID {
		return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, storeID)
	}
	now := time.Now().UTC()
	plan := make(map[stockKey]domain.StockItem, len(deltas))
	for productID, delta := range deltas {
		product, ok := s.products[productID]
		if !ok || product.OrganizationID != organizationID {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		key := stockKey{organizationID: organizationID, storeID: storeID, productID: productID}
		current, exists := s.stock[key]
		next, ok := domain.NextStockQuantity(current.Quantity, exists, delta, policy)
		if !ok {
			return nil, fmt.Errorf("%w: product %s has %d, needs %d", store.ErrInsufficientStock, productID, current.Quantity, -delta)
		}
		plan[key] = domain.StockItem{
			OrganizationID: organizationID,
			StoreID:        storeID,
			ProductID:      productID,
			Quantity:       next,
			UpdatedAt:      now,
		}
	}
	return plan, nil
}

func (s *Store) commitStockLocked(plan map[stockKey]domain.StockItem) {
	for key, item := range plan {
		s.stock[key] = item
	}
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.OrganizationID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliers[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, organizationID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		if supplier.OrganizationID == organizationID {
			suppliers = append(suppliers, supplier)
		}
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) nextSequenceLocked(organizationID string, prefix string) string {
	key := organizationID + "::" + prefix
	s.sequences[key]++
	return domain.FormatNumber(prefix, s.sequences[key])
}

func (s *Store) CreateTicket(_ context.Context, ticket domain.Ticket, history domain.TicketHistory) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.OrganizationID == "" || ticket.Status != domain.TicketReceived {
		return nil, store.ErrInvalidTransaction
	}
	if st, ok := s.stores[ticket.StoreID]; !ok || st.OrganizationID != ticket.OrganizationID {
		return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, ticket.StoreID)
	}
	customer, ok := s.customers[ticket.CustomerID]
	if !ok || customer.OrganizationID != ticket.OrganizationID {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, ticket.CustomerID)
	}
	device, ok := s.devices[ticket.DeviceID]
	if !ok || device.OrganizationID != ticket.OrganizationID {
		return nil, fmt.Errorf("%w: device %s", store.ErrNotFound, ticket.DeviceID)
	}
	if ticket.ID == "" {
		ticket.ID = xid.New("tkt")
	}
	if history.ID == "" {
		history.ID = xid.New("tkh")
	}

	ticket.Number = s.nextSequenceLocked(ticket.OrganizationID, domain.TicketNumberPrefix)
	history.TicketID = ticket.ID
	s.tickets[ticket.ID] = ticket
	s.ticketHistory[ticket.ID] = append(s.ticketHistory[ticket.ID], history)

	saved := cloneTicket(ticket)
	return &saved, nil
}

func (s *Store) GetTicket(_ context.Context, organizationID string, ticketID string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, err := s.ticketLocked(organizationID, ticketID)
	if err != nil {
		return nil, err
	}
	found := cloneTicket(ticket)
	return &found, nil
}

func (s *Store) ticketLocked(organizationID string, ticketID string) (domain.Ticket, error) {
	ticket, ok := s.tickets[ticketID]
	if !ok || ticket.OrganizationID != organizationID {
		return domain.Ticket{}, store.ErrNotFound
	}
	return ticket, nil
}

func (s *Store) UpdateTicketStatus(_ context.Context, organizationID string, expectedFrom domain.TicketStatus, history domain.TicketHistory) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.ticketLocked(organizationID, history.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != expectedFrom {
		return nil, fmt.Errorf("%w: ticket %s moved to %s concurrently", store.ErrConflict, ticket.ID, ticket.Status)
	}
	if history.ID == "" {
		history.ID = xid.New("tkh")
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}
	from := expectedFrom
	history.FromStatus = &from

	ticket.ApplyStatus(history.ToStatus, history.CreatedAt)
	s.tickets[ticket.ID] = ticket
	s.ticketHistory[ticket.ID] = append(s.ticketHistory[ticket.ID], history)

	saved := cloneTicket(ticket)
	return &saved, nil
}

func (s *Store) ListTicketHistory(_ context.Context, organizationID string, ticketID string) ([]domain.TicketHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ticketLocked(organizationID, ticketID); err != nil {
		return nil, err
	}
	return slices.Clone(s.ticketHistory[ticketID]), nil
}

func (s *Store) CreateTicketAssignment(_ context.Context, organizationID string, assignment domain.TicketAssignment) (*domain.TicketAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ticketLocked(organizationID, assignment.TicketID); err != nil {
		return nil, err
	}
	user, ok := s.usersByID[assignment.UserID]
	if !ok || user.OrganizationID != organizationID {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, assignment.UserID)
	}
	if assignment.ID == "" {
		assignment.ID = xid.New("tka")
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	s.ticketAssignments[assignment.TicketID] = append(s.ticketAssignments[assignment.TicketID], assignment)
	saved := assignment
	return &saved, nil
}

func (s *Store) ListTicketAssignments(_ context.Context, organizationID string, ticketID string) ([]domain.TicketAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ticketLocked(organizationID, ticketID); err != nil {
		return nil, err
	}
	return slices.Clone(s.ticketAssignments[ticketID]), nil
}

func (s *Store) CreateTicketNote(_ context.Context, organizationID string, note domain.TicketNote) (*domain.TicketNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ticketLocked(organizationID, note.TicketID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(note.Body) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if note.ID == "" {
		note.ID = xid.New("tkn")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	s.ticketNotes[note.TicketID] = append(s.ticketNotes[note.TicketID], note)
	saved := note
	return &saved, nil
}

func (s *Store) ListTicketNotes(_ context.Context, organizationID string, ticketID string) ([]domain.TicketNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ticketLocked(organizationID, ticketID); err != nil {
		return nil, err
	}
	return slices.Clone(s.ticketNotes[ticketID]), nil
}

func (s *Store) AddTicketLineItem(_ context.Context, organizationID string, item domain.TicketLineItem, policy domain.StockPolicy) (*domain.TicketLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.ticketLocked(organizationID, item.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.Terminal() {
		return nil, fmt.Errorf("%w: ticket %s is %s", store.ErrConflict, ticket.ID, ticket.Status)
	}
	if item.Quantity < 1 || item.UnitPriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if item.ProductID != "" {
		product, ok := s.products[item.ProductID]
		if !ok || product.OrganizationID != organizationID {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	var plan map[stockKey]domain.StockItem
	if item.MovesStock() {
		plan, err = s.planStockLocked(organizationID, ticket.StoreID, map[string]int{item.ProductID: -item.Quantity}, policy)
		if err != nil {
			return nil, err
		}
	}
	if item.ID == "" {
		item.ID = xid.New("tkl")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.commitStockLocked(plan)
	s.ticketLines[item.TicketID] = append(s.ticketLines[item.TicketID], item)
	saved := item
	return &saved, nil
}

func (s *Store) RemoveTicketLineItem(_ context.Context, organizationID string, ticketID string, lineItemID string, policy domain.StockPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.ticketLocked(organizationID, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status.Terminal() {
		return fmt.Errorf("%w: ticket %s is %s", store.ErrConflict, ticket.ID, ticket.Status)
	}
	lines := s.ticketLines[ticketID]
	idx := slices.IndexFunc(lines, func(l domain.TicketLineItem) bool { return l.ID == lineItemID })
	if idx < 0 {
		return store.ErrNotFound
	}
	line := lines[idx]

	var plan map[stockKey]domain.StockItem
	if line.MovesStock() {
		plan, err = s.planStockLocked(organizationID, ticket.StoreID, map[string]int{line.ProductID: line.Quantity}, policy)
		if err != nil {
			return err
		}
	}

	s.commitStockLocked(plan)
	s.ticketLines[ticketID] = slices.Delete(slices.Clone(lines), idx, idx+1)
	return nil
}

func (s *Store) ListTicketLineItems(_ context.Context, organizationID string, ticketID string) ([]domain.TicketLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ticketLocked(organizationID, ticketID); err != nil {
		return nil, err
	}
	return slices.Clone(s.ticketLines[ticketID]), nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.OrganizationID == "" || po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if st, ok := s.stores[po.StoreID]; !ok || st.OrganizationID != po.OrganizationID {
		return nil, fmt.Errorf("%w: store %s", store.ErrNotFound, po.StoreID)
	}
	if supplier, ok := s.suppliers[po.SupplierID]; !ok || supplier.OrganizationID != po.OrganizationID {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		if item.Quantity < 1 || item.UnitCostCents < 0 {
			return nil, store.ErrInvalidTransaction
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.OrganizationID != po.OrganizationID {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if item.ID == "" {
			item.ID = xid.New("poi")
		}
		item.PurchaseOrderID = po.ID
		item.ReceivedQty = 0
		items = append(items, item)
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Items = items
	po.Status = domain.PurchaseOrderDraft
	po.TotalCostCents = domain.PurchaseOrderTotal(items)
	po.Number = s.nextSequenceLocked(po.OrganizationID, domain.PurchaseOrderNumberPrefix)

	s.purchaseOrders[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) purchaseOrderLocked(organizationID string, purchaseOrderID string) (domain.PurchaseOrder, error) {
	po, ok := s.purchaseOrders[purchaseOrderID]
	if !ok || po.OrganizationID != organizationID {
		return domain.PurchaseOrder{}, store.ErrNotFound
	}
	return clonePurchaseOrder(po), nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, organizationID string, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, err := s.purchaseOrderLocked(organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, organizationID string, storeID string, status domain.PurchaseOrderStatus, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrders))
	for _, po := range s.purchaseOrders {
		if po.OrganizationID != organizationID {
			continue
		}
		if storeID != "" && po.StoreID != storeID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SubmitPurchaseOrder(_ context.Context, organizationID string, purchaseOrderID string, orderedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, err := s.purchaseOrderLocked(organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != domain.PurchaseOrderDraft {
		return nil, fmt.Errorf("%w: purchase order %s is %s", store.ErrConflict, po.ID, po.Status)
	}
	po.Status = domain.PurchaseOrderOrdered
	po.OrderedAt = &orderedAt
	s.purchaseOrders[po.ID] = po
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) CancelPurchaseOrder(_ context.Context, organizationID string, purchaseOrderID string, cancelledAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, err := s.purchaseOrderLocked(organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != domain.PurchaseOrderDraft && po.Status != domain.PurchaseOrderOrdered {
		return nil, fmt.Errorf("%w: purchase order %s is %s", store.ErrConflict, po.ID, po.Status)
	}
	po.Status = domain.PurchaseOrderCancelled
	po.CancelledAt = &cancelledAt
	s.purchaseOrders[po.ID] = po
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, organizationID string, purchaseOrderID string, lines []domain.ReceiptLine, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, err := s.purchaseOrderLocked(organizationID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	deltas, err := po.ApplyReceipt(lines, receivedAt)
	if err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}
	plan, err := s.planStockLocked(organizationID, po.StoreID, deltas, domain.StockPermissive)
	if err != nil {
		return nil, err
	}

	s.commitStockLocked(plan)
	s.purchaseOrders[po.ID] = po
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) CreateInvoice(_ context.Context, organizationID string, ticketID string, build store.InvoiceBuilder) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.ticketLocked(organizationID, ticketID)
	if err != nil {
		return nil, err
	}
	for _, existing := range s.invoices {
		if existing.TicketID == ticket.ID && existing.Status != domain.InvoiceCancelled {
			return nil, fmt.Errorf("%w: ticket %s already has invoice %s", store.ErrConflict, ticket.ID, existing.Number)
		}
	}
	invoice, err := build(ticket, slices.Clone(s.ticketLines[ticket.ID]))
	if err != nil {
		return nil, err
	}
	invoice.OrganizationID = organizationID
	invoice.TicketID = ticket.ID
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	invoice.Status = domain.InvoiceDraft
	invoice.CustomerID = ticket.CustomerID
	invoice.StoreID = ticket.StoreID
	invoice.Payments = []domain.Payment{}
	invoice.PaidCents = 0
	invoice.Number = s.nextSequenceLocked(invoice.OrganizationID, domain.InvoiceNumberPrefix)

	s.invoices[invoice.ID] = cloneInvoice(invoice)
	saved := cloneInvoice(invoice)
	return &saved, nil
}

func (s *Store) invoiceLocked(organizationID string, invoiceID string) (domain.Invoice, error) {
	invoice, ok := s.invoices[invoiceID]
	if !ok || invoice.OrganizationID != organizationID {
		return domain.Invoice{}, store.ErrNotFound
	}
	return cloneInvoice(invoice), nil
}

func (s *Store) GetInvoice(_ context.Context, organizationID string, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, err := s.invoiceLocked(organizationID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, organizationID string, invoiceID string, status domain.InvoiceStatus, at time.Time) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, err := s.invoiceLocked(organizationID, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckInvoiceTransition(invoice.Status, status); err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}
	invoice.Status = status
	switch status {
	case domain.InvoiceSent:
		invoice.SentAt = &at
	case domain.InvoiceCancelled:
		invoice.CancelledAt = &at
	}
	s.invoices[invoice.ID] = invoice
	saved := cloneInvoice(invoice)
	return &saved, nil
}

func (s *Store) RecordPayment(_ context.Context, organizationID string, payment domain.Payment) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, err := s.invoiceLocked(organizationID, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if payment.AmountCents < 1 || !payment.Method.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if err := invoice.ApplyPayment(payment, payment.CreatedAt); err != nil {
		return nil, store.ClassifyWorkflowError(err)
	}
	s.invoices[invoice.ID] = invoice
	saved := cloneInvoice(invoice)
	return &saved, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleTransaction, policy domain.StockPolicy) (*domain.SaleTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.OrganizationID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CustomerID != "" {
		customer, ok := s.customers[sale.CustomerID]
		if !ok || customer.OrganizationID != sale.OrganizationID {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
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
	plan, err := s.planStockLocked(sale.OrganizationID, sale.StoreID, deltas, policy)
	if err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.commitStockLocked(plan)
	sale.Number = s.nextSequenceLocked(sale.OrganizationID, domain.SaleNumberPrefix)
	s.sales[sale.ID] = cloneSale(sale)
	saved := cloneSale(sale)
	return &saved, nil
}

func (s *Store) GetSale(_ context.Context, organizationID string, saleID string) (*domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) GetDashboard(_ context.Context, organizationID string, storeID string, from time.Time, to time.Time) (domain.Dashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dash := domain.Dashboard{
		OrganizationID:  organizationID,
		StoreID:         storeID,
		TicketsByStatus: make(map[domain.TicketStatus]int),
		DepletedStock:   make([]domain.StockItem, 0, 8),
	}
	for _, ticket := range s.tickets {
		if ticket.OrganizationID != organizationID {
			continue
		}
		dash.TicketsByStatus[ticket.Status]++
		if ticket.Status.Open() {
			dash.OpenTickets++
		}
	}
	for _, invoice := range s.invoices {
		if invoice.OrganizationID != organizationID || invoice.Status.Settled() {
			continue
		}
		dash.UnpaidInvoices++
		dash.OutstandingInvoiceCents += max(invoice.TotalCents-invoice.PaidCents, 0)
	}
	for _, sale := range s.sales {
		if sale.OrganizationID != organizationID || sale.StoreID != storeID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		dash.SalesCount++
		dash.SalesTotalCents += sale.TotalCents
	}
	for key, item := range s.stock {
		if key.organizationID == organizationID && key.storeID == storeID && item.Quantity <= 0 {
			dash.DepletedStock = append(dash.DepletedStock, item)
		}
	}
	slices.SortFunc(dash.DepletedStock, func(a, b domain.StockItem) int {
		return cmpString(a.ProductID, b.ProductID)
	})
	return dash, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, organizationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.OrganizationID != organizationID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTicket(src domain.Ticket) domain.Ticket {
	dup := src
	if src.CompletedAt != nil {
		completed := *src.CompletedAt
		dup.CompletedAt = &completed
	}
	return dup
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.Payments = slices.Clone(src.Payments)
	if dup.Payments == nil {
		dup.Payments = []domain.Payment{}
	}
	return dup
}

func cloneSale(src domain.SaleTransaction) domain.SaleTransaction {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}
