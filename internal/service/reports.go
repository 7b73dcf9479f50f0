package service

import (
	"context"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
)

// GetDashboard summarizes one business day (UTC, YYYY-MM-DD, default today)
// for a store. Ticket and invoice counts are organization wide.
func (s *Service) GetDashboard(ctx context.Context, sess domain.Session, storeID string, date string) (domain.Dashboard, error) {
	if err := s.authorize(sess, authz.ReportsRead); err != nil {
		return domain.Dashboard{}, err
	}
	storeID = s.activeStore(sess, storeID)
	if storeID == "" {
		return domain.Dashboard{}, invalid("store_id", "is required")
	}
	from, to, err := dayWindow(date, s.now())
	if err != nil {
		return domain.Dashboard{}, err
	}
	if _, err := s.repo.GetStore(ctx, sess.OrganizationID, storeID); err != nil {
		return domain.Dashboard{}, err
	}

	dash, err := s.repo.GetDashboard(ctx, sess.OrganizationID, storeID, from, to)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dash.Date = from.Format("2006-01-02")
	return dash, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, sess domain.Session, date string, limit int) ([]domain.AuditLog, error) {
	if err := s.authorize(sess, authz.SettingsRead); err != nil {
		return nil, err
	}
	from, to, err := dayWindow(date, s.now())
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, sess.OrganizationID, from, to, limit)
}
