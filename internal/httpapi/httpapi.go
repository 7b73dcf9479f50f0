package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/service"
	"fixdesk/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/settings", a.requireAuth(a.handleGetSettings))
	mux.HandleFunc("PUT /api/v1/settings/tax-rate", a.requireAuth(a.handleUpdateTaxRate))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer))
	mux.HandleFunc("POST /api/v1/devices", a.requireAuth(a.handleCreateDevice))
	mux.HandleFunc("GET /api/v1/devices/{id}", a.requireAuth(a.handleGetDevice))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct))
	mux.HandleFunc("GET /api/v1/stock", a.requireAuth(a.handleListStock))
	mux.HandleFunc("POST /api/v1/stock/adjustments", a.requireAuth(a.handleAdjustStock))
	mux.HandleFunc("GET /api/v1/suppliers", a.requireAuth(a.handleListSuppliers))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireAuth(a.handleCreateSupplier))

	mux.HandleFunc("POST /api/v1/tickets", a.requireAuth(a.handleCreateTicket))
	mux.HandleFunc("GET /api/v1/tickets/{id}", a.requireAuth(a.handleGetTicket))
	mux.HandleFunc("GET /api/v1/tickets/{id}/history", a.requireAuth(a.handleTicketHistory))
	mux.HandleFunc("POST /api/v1/tickets/{id}/status", a.requireAuth(a.handleTicketStatus))
	mux.HandleFunc("POST /api/v1/tickets/{id}/assignments", a.requireAuth(a.handleAssignTicket))
	mux.HandleFunc("POST /api/v1/tickets/{id}/notes", a.requireAuth(a.handleTicketNote))
	mux.HandleFunc("POST /api/v1/tickets/{id}/line-items", a.requireAuth(a.handleAddLineItem))
	mux.HandleFunc("DELETE /api/v1/tickets/{id}/line-items/{itemID}", a.requireAuth(a.handleRemoveLineItem))
	mux.HandleFunc("POST /api/v1/tickets/{id}/invoice", a.requireAuth(a.handleInvoiceTicket))

	mux.HandleFunc("GET /api/v1/purchase-orders", a.requireAuth(a.handleListPurchaseOrders))
	mux.HandleFunc("POST /api/v1/purchase-orders", a.requireAuth(a.handleCreatePurchaseOrder))
	mux.HandleFunc("GET /api/v1/purchase-orders/{id}", a.requireAuth(a.handleGetPurchaseOrder))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/submit", a.requireAuth(a.handleSubmitPurchaseOrder))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/receive", a.requireAuth(a.handleReceivePurchaseOrder))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/cancel", a.requireAuth(a.handleCancelPurchaseOrder))

	mux.HandleFunc("GET /api/v1/invoices/{id}", a.requireAuth(a.handleGetInvoice))
	mux.HandleFunc("POST /api/v1/invoices/{id}/send", a.requireAuth(a.handleSendInvoice))
	mux.HandleFunc("POST /api/v1/invoices/{id}/overdue", a.requireAuth(a.handleOverdueInvoice))
	mux.HandleFunc("POST /api/v1/invoices/{id}/cancel", a.requireAuth(a.handleCancelInvoice))
	mux.HandleFunc("POST /api/v1/invoices/{id}/payments", a.requireAuth(a.handleRecordPayment))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale))

	mux.HandleFunc("GET /api/v1/dashboard", a.requireAuth(a.handleDashboard))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs))

	return a.withMiddleware(mux)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess domain.Session)

// requireAuth resolves the bearer token into a session. Permission checks
// happen in the service layer.
func (a *API) requireAuth(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		sess, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r, sess)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  validation.Error(),
			"fields": validation.Fields,
		})
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidTransaction):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; details go to the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("[httpapi] ERROR: status %d: %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
