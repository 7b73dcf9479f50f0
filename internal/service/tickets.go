package service

import (
	"context"
	"fmt"
	"strings"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

// CreateTicket opens a repair ticket at the caller's active store. The ticket
// and its first history row are written together.
func (s *Service) CreateTicket(ctx context.Context, sess domain.Session, req domain.TicketCreateRequest) (domain.Ticket, error) {
	if err := s.authorize(sess, authz.TicketsCreate); err != nil {
		return domain.Ticket{}, err
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Priority = domain.TicketPriority(strings.ToUpper(strings.TrimSpace(string(req.Priority))))

	var v validator
	v.required(req.CustomerID, "customer_id")
	v.required(req.DeviceID, "device_id")
	v.required(req.Title, "title")
	v.check(req.Priority.Valid(), "priority", "must be one of LOW, NORMAL, HIGH, URGENT")
	v.check(sess.ActiveStoreID != "", "store_id", "session has no active store")
	if err := v.err(); err != nil {
		return domain.Ticket{}, err
	}

	device, err := s.repo.GetDevice(ctx, sess.OrganizationID, req.DeviceID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if device.CustomerID != req.CustomerID {
		return domain.Ticket{}, invalid("device_id", "does not belong to customer")
	}

	now := s.now()
	ticket := domain.Ticket{
		ID:             xid.New("tkt"),
		OrganizationID: sess.OrganizationID,
		StoreID:        sess.ActiveStoreID,
		CustomerID:     req.CustomerID,
		DeviceID:       req.DeviceID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         domain.TicketReceived,
		Priority:       req.Priority,
		CreatedBy:      sess.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	history := domain.TicketHistory{
		ID:        xid.New("tkh"),
		TicketID:  ticket.ID,
		ToStatus:  domain.TicketReceived,
		ActorID:   sess.UserID,
		CreatedAt: now,
	}

	created, err := s.repo.CreateTicket(ctx, ticket, history)
	if err != nil {
		return domain.Ticket{}, err
	}

	s.logAudit(ctx, sess, "ticket_create", "ticket", created.ID, fmt.Sprintf("number=%s,priority=%s", created.Number, created.Priority))
	s.publish(ctx, sess, events.TicketCreated, created.ID, map[string]any{
		"number":   created.Number,
		"store_id": created.StoreID,
		"priority": created.Priority,
	})
	s.notify(ctx, sess, "/tickets", "/dashboard")
	return *created, nil
}

// UpdateTicketStatus moves a ticket through the repair workflow. Jumps of
// more than one step need both req.Override and the override permission.
func (s *Service) UpdateTicketStatus(ctx context.Context, sess domain.Session, ticketID string, req domain.TicketStatusRequest) (domain.Ticket, error) {
	if err := s.authorize(sess, authz.TicketsUpdate); err != nil {
		return domain.Ticket{}, err
	}
	if req.Override {
		if err := s.authorize(sess, authz.TicketsOverride); err != nil {
			return domain.Ticket{}, err
		}
	}

	req.Status = domain.TicketStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	req.Note = strings.TrimSpace(req.Note)
	if !req.Status.Valid() {
		return domain.Ticket{}, invalid("status", "is not a ticket status")
	}

	current, err := s.repo.GetTicket(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := domain.CheckTicketTransition(current.Status, req.Status, req.Override); err != nil {
		return domain.Ticket{}, store.ClassifyWorkflowError(err)
	}

	updated, err := s.repo.UpdateTicketStatus(ctx, sess.OrganizationID, current.Status, domain.TicketHistory{
		ID:        xid.New("tkh"),
		TicketID:  current.ID,
		ToStatus:  req.Status,
		ActorID:   sess.UserID,
		Note:      req.Note,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	s.logAudit(ctx, sess, "ticket_status", "ticket", updated.ID, fmt.Sprintf("from=%s,to=%s,override=%t", current.Status, updated.Status, req.Override))
	s.publish(ctx, sess, events.TicketStatusChanged, updated.ID, map[string]any{
		"number": updated.Number,
		"from":   current.Status,
		"to":     updated.Status,
	})
	s.notify(ctx, sess, "/tickets", "/tickets/"+updated.ID, "/dashboard")
	return *updated, nil
}

func (s *Service) AssignTicket(ctx context.Context, sess domain.Session, ticketID string, req domain.TicketAssignRequest) (domain.TicketAssignment, error) {
	if err := s.authorize(sess, authz.TicketsUpdate); err != nil {
		return domain.TicketAssignment{}, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return domain.TicketAssignment{}, invalid("user_id", "is required")
	}

	assignee, err := s.repo.GetUser(ctx, sess.OrganizationID, req.UserID)
	if err != nil {
		return domain.TicketAssignment{}, err
	}
	if !assignee.Active {
		return domain.TicketAssignment{}, invalid("user_id", "user is inactive")
	}

	assignment, err := s.repo.CreateTicketAssignment(ctx, sess.OrganizationID, domain.TicketAssignment{
		ID:         xid.New("tka"),
		TicketID:   ticketID,
		UserID:     assignee.ID,
		AssignedBy: sess.UserID,
		AssignedAt: s.now(),
	})
	if err != nil {
		return domain.TicketAssignment{}, err
	}

	s.logAudit(ctx, sess, "ticket_assign", "ticket", ticketID, fmt.Sprintf("user=%s", assignee.ID))
	s.publish(ctx, sess, events.TicketAssigned, ticketID, map[string]any{"user_id": assignee.ID})
	s.notify(ctx, sess, "/tickets/"+ticketID)
	return *assignment, nil
}

func (s *Service) AddTicketNote(ctx context.Context, sess domain.Session, ticketID string, req domain.TicketNoteRequest) (domain.TicketNote, error) {
	if err := s.authorize(sess, authz.TicketsNote); err != nil {
		return domain.TicketNote{}, err
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		return domain.TicketNote{}, invalid("body", "is required")
	}

	note, err := s.repo.CreateTicketNote(ctx, sess.OrganizationID, domain.TicketNote{
		ID:        xid.New("tkn"),
		TicketID:  ticketID,
		AuthorID:  sess.UserID,
		Body:      req.Body,
		Internal:  req.Internal,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.TicketNote{}, err
	}

	s.logAudit(ctx, sess, "ticket_note", "ticket", ticketID, fmt.Sprintf("internal=%t", note.Internal))
	s.notify(ctx, sess, "/tickets/"+ticketID)
	return *note, nil
}

// AddTicketLineItem records a part or labor line. Part lines take stock from
// the ticket's store in the same write.
func (s *Service) AddTicketLineItem(ctx context.Context, sess domain.Session, ticketID string, req domain.TicketLineItemRequest) (domain.TicketLineItem, error) {
	if err := s.authorize(sess, authz.TicketsUpdate); err != nil {
		return domain.TicketLineItem{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Description = strings.TrimSpace(req.Description)

	var v validator
	v.check(req.Quantity >= 1, "quantity", "must be at least 1")
	v.check(req.UnitPriceCents == nil || *req.UnitPriceCents >= 0, "unit_price_cents", "must not be negative")
	v.check(req.ProductID != "" || req.UnitPriceCents != nil, "unit_price_cents", "is required without a product")
	v.check(req.ProductID != "" || req.Description != "", "description", "is required without a product")
	if err := v.err(); err != nil {
		return domain.TicketLineItem{}, err
	}

	item := domain.TicketLineItem{
		ID:          xid.New("tkl"),
		TicketID:    ticketID,
		ProductID:   req.ProductID,
		Description: req.Description,
		Quantity:    req.Quantity,
		IsLabor:     req.IsLabor,
		CreatedAt:   s.now(),
	}
	if req.ProductID != "" {
		product, err := s.repo.GetProduct(ctx, sess.OrganizationID, req.ProductID)
		if err != nil {
			return domain.TicketLineItem{}, err
		}
		item.UnitPriceCents = product.PriceCents
		if item.Description == "" {
			item.Description = product.Name
		}
	}
	if req.UnitPriceCents != nil {
		item.UnitPriceCents = *req.UnitPriceCents
	}

	saved, err := s.repo.AddTicketLineItem(ctx, sess.OrganizationID, item, s.stockPolicy)
	if err != nil {
		return domain.TicketLineItem{}, err
	}

	s.logAudit(ctx, sess, "ticket_line_add", "ticket", ticketID, fmt.Sprintf("line=%s,product=%s,qty=%d,labor=%t", saved.ID, saved.ProductID, saved.Quantity, saved.IsLabor))
	if saved.MovesStock() {
		s.notify(ctx, sess, "/tickets/"+ticketID, "/inventory")
	} else {
		s.notify(ctx, sess, "/tickets/"+ticketID)
	}
	return *saved, nil
}

// RemoveTicketLineItem deletes a line and returns any consumed part to stock.
func (s *Service) RemoveTicketLineItem(ctx context.Context, sess domain.Session, ticketID string, lineItemID string) error {
	if err := s.authorize(sess, authz.TicketsUpdate); err != nil {
		return err
	}
	if strings.TrimSpace(lineItemID) == "" {
		return invalid("line_item_id", "is required")
	}
	if err := s.repo.RemoveTicketLineItem(ctx, sess.OrganizationID, ticketID, lineItemID, s.stockPolicy); err != nil {
		return err
	}

	s.logAudit(ctx, sess, "ticket_line_remove", "ticket", ticketID, fmt.Sprintf("line=%s", lineItemID))
	s.notify(ctx, sess, "/tickets/"+ticketID, "/inventory")
	return nil
}

func (s *Service) GetTicket(ctx context.Context, sess domain.Session, ticketID string) (domain.TicketDetail, error) {
	if err := s.authorize(sess, authz.TicketsRead); err != nil {
		return domain.TicketDetail{}, err
	}

	ticket, err := s.repo.GetTicket(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.TicketDetail{}, err
	}
	lines, err := s.repo.ListTicketLineItems(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.TicketDetail{}, err
	}
	assignments, err := s.repo.ListTicketAssignments(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.TicketDetail{}, err
	}
	notes, err := s.repo.ListTicketNotes(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.TicketDetail{}, err
	}
	history, err := s.repo.ListTicketHistory(ctx, sess.OrganizationID, ticketID)
	if err != nil {
		return domain.TicketDetail{}, err
	}

	return domain.TicketDetail{
		Ticket:       *ticket,
		LineItems:    lines,
		Assignments:  assignments,
		Notes:        notes,
		History:      history,
		NextStatuses: domain.NextTicketStatuses(ticket.Status),
	}, nil
}

func (s *Service) ListTicketHistory(ctx context.Context, sess domain.Session, ticketID string) ([]domain.TicketHistory, error) {
	if err := s.authorize(sess, authz.TicketsRead); err != nil {
		return nil, err
	}
	return s.repo.ListTicketHistory(ctx, sess.OrganizationID, ticketID)
}
