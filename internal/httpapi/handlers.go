package httpapi

import (
	"net/http"

	"fixdesk/backend/internal/domain"
)

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	org, err := a.service.GetOrganization(r.Context(), sess)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organization": org})
}

func (a *API) handleUpdateTaxRate(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req struct {
		TaxRate string `json:"tax_rate"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	org, err := a.service.UpdateTaxRate(r.Context(), sess, req.TaxRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organization": org})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	customers, err := a.service.ListCustomers(r.Context(), sess, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	customer, err := a.service.GetCustomer(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateDevice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.DeviceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	device, err := a.service.CreateDevice(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"device": device})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	device, err := a.service.GetDevice(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": device})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	products, err := a.service.ListProducts(r.Context(), sess)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	resp, err := a.service.ListStock(r.Context(), sess, r.URL.Query().Get("store_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.AdjustStock(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": item})
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	suppliers, err := a.service.ListSuppliers(r.Context(), sess)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.SupplierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.TicketCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticket, err := a.service.CreateTicket(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": ticket})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	detail, err := a.service.GetTicket(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleTicketHistory(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	history, err := a.service.ListTicketHistory(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) handleTicketStatus(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.TicketStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ticket, err := a.service.UpdateTicketStatus(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (a *API) handleAssignTicket(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.TicketAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assignment, err := a.service.AssignTicket(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assignment": assignment})
}

func (a *API) handleTicketNote(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.TicketNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	note, err := a.service.AddTicketNote(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"note": note})
}

func (a *API) handleAddLineItem(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.TicketLineItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.AddTicketLineItem(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"line_item": item})
}

func (a *API) handleRemoveLineItem(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	if err := a.service.RemoveTicketLineItem(r.Context(), sess, r.PathValue("id"), r.PathValue("itemID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInvoiceTicket(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	invoice, err := a.service.CreateInvoiceFromTicket(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": invoice})
}

func (a *API) handleListPurchaseOrders(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 50, 200)
	resp, err := a.service.ListPurchaseOrders(r.Context(), sess, query.Get("store_id"), query.Get("status"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.PurchaseOrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	po, err := a.service.CreatePurchaseOrder(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase_order": po})
}

func (a *API) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	po, err := a.service.GetPurchaseOrder(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleSubmitPurchaseOrder(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	po, err := a.service.SubmitPurchaseOrder(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleReceivePurchaseOrder(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.PurchaseOrderReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	po, err := a.service.ReceivePurchaseOrder(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleCancelPurchaseOrder(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	po, err := a.service.CancelPurchaseOrder(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	invoice, err := a.service.GetInvoice(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleSendInvoice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	invoice, err := a.service.SendInvoice(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleOverdueInvoice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	invoice, err := a.service.MarkInvoiceOverdue(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleCancelInvoice(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	invoice, err := a.service.CancelInvoice(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.service.RecordPayment(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSaleTransaction(r.Context(), sess, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	sale, err := a.service.GetSale(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	query := r.URL.Query()
	dash, err := a.service.GetDashboard(r.Context(), sess, query.Get("store_id"), query.Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 200, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), sess, query.Get("date"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
