package authz

import (
	"strings"

	"fixdesk/backend/internal/domain"
)

// Permissions are "resource:action" strings.
const (
	TicketsCreate   = "tickets:create"
	TicketsRead     = "tickets:read"
	TicketsUpdate   = "tickets:update"
	TicketsNote     = "tickets:note"
	TicketsOverride = "tickets:override"

	CustomersCreate = "customers:create"
	CustomersRead   = "customers:read"
	DevicesCreate   = "devices:create"
	DevicesRead     = "devices:read"

	InventoryCreate = "inventory:create"
	InventoryRead   = "inventory:read"
	InventoryUpdate = "inventory:update"

	PurchaseOrdersCreate = "purchase_orders:create"
	PurchaseOrdersRead   = "purchase_orders:read"
	PurchaseOrdersUpdate = "purchase_orders:update"

	InvoicesCreate = "invoices:create"
	InvoicesRead   = "invoices:read"
	InvoicesUpdate = "invoices:update"

	SalesCreate = "sales:create"
	SalesRead   = "sales:read"

	ReportsRead    = "reports:read"
	SettingsRead   = "settings:read"
	SettingsUpdate = "settings:update"
	UsersCreate    = "users:create"
	UsersUpdate    = "users:update"
)

type grant struct {
	resource string
	action   string
}

// rolePolicies lists grants per role. "*" matches any resource or action.
var rolePolicies = map[domain.Role][]grant{
	domain.RoleAdmin: {
		{"*", "*"},
	},
	domain.RoleManager: {
		{"tickets", "*"},
		{"customers", "*"},
		{"devices", "*"},
		{"inventory", "*"},
		{"purchase_orders", "*"},
		{"invoices", "*"},
		{"sales", "*"},
		{"reports", "*"},
		{"settings", "read"},
		{"users", "read"},
	},
	domain.RoleTechnician: {
		{"tickets", "read"},
		{"tickets", "update"},
		{"tickets", "note"},
		{"customers", "read"},
		{"devices", "read"},
		{"inventory", "read"},
		{"purchase_orders", "read"},
		{"invoices", "read"},
		{"sales", "read"},
	},
	domain.RoleStaff: {
		{"tickets", "create"},
		{"tickets", "read"},
		{"tickets", "update"},
		{"tickets", "note"},
		{"customers", "*"},
		{"devices", "*"},
		{"inventory", "read"},
	},
}

// HasPermission reports whether role may perform permission. Unknown roles
// and malformed permissions are denied.
func HasPermission(role domain.Role, permission string) bool {
	resource, action, ok := strings.Cut(permission, ":")
	if !ok || resource == "" || action == "" {
		return false
	}
	for _, g := range rolePolicies[role] {
		if (g.resource == "*" || g.resource == resource) && (g.action == "*" || g.action == action) {
			return true
		}
	}
	return false
}
