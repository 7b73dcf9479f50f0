package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/refresh"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/xid"
)

// ErrUnauthorized covers both a missing session and a denied permission.
var ErrUnauthorized = errors.New("unauthorized")

type Options struct {
	// StockPolicy applies to sales and ticket parts. Manual adjustments may
	// ask for strict per request.
	StockPolicy domain.StockPolicy
	Notifier    refresh.Notifier
	Publisher   events.Publisher
	// HookTimeout bounds each event publish and refresh hint that follows a
	// committed write. Defaults to one second.
	HookTimeout time.Duration
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	notifier    refresh.Notifier
	publisher   events.Publisher
	stockPolicy domain.StockPolicy
	hookTimeout time.Duration
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.StockPolicy == "" {
		opts.StockPolicy = domain.StockPermissive
	}
	if opts.Notifier == nil {
		opts.Notifier = refresh.NoopNotifier{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:        repo,
		notifier:    opts.Notifier,
		publisher:   opts.Publisher,
		stockPolicy: opts.StockPolicy,
		hookTimeout: opts.HookTimeout,
		now:         opts.Now,
	}
}

func (s *Service) authorize(sess domain.Session, permission string) error {
	if sess.UserID == "" || sess.OrganizationID == "" {
		return fmt.Errorf("%w: no active session", ErrUnauthorized)
	}
	if !authz.HasPermission(sess.Role, permission) {
		return fmt.Errorf("%w: role %s lacks %s", ErrUnauthorized, sess.Role, permission)
	}
	return nil
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every input constraint a request violated.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s", store.ErrInvalidTransaction, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidTransaction
}

type validator struct {
	fields []FieldError
}

func (v *validator) check(ok bool, field string, message string) {
	if !ok {
		v.fields = append(v.fields, FieldError{Field: field, Message: message})
	}
}

func (v *validator) required(value string, field string) {
	v.check(strings.TrimSpace(value) != "", field, "is required")
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

func invalid(field string, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (s *Service) logAudit(ctx context.Context, sess domain.Session, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:             xid.New("audit"),
		OrganizationID: sess.OrganizationID,
		StoreID:        sess.ActiveStoreID,
		ActorID:        sess.UserID,
		ActorRole:      sess.Role,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		Detail:         detail,
		CreatedAt:      s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) publish(ctx context.Context, sess domain.Session, eventType string, entityID string, payload map[string]any) {
	event := events.Event{
		ID:             xid.New("evt"),
		Type:           eventType,
		OrganizationID: sess.OrganizationID,
		EntityID:       entityID,
		ActorID:        sess.UserID,
		OccurredAt:     s.now(),
		Payload:        payload,
	}
	hookCtx, cancel := s.hookContext(ctx)
	defer cancel()
	if err := s.publisher.Publish(hookCtx, event); err != nil {
		log.Printf("[service] WARN: failed to publish %s for %s: %v", eventType, entityID, err)
	}
}

func (s *Service) notify(ctx context.Context, sess domain.Session, paths ...string) {
	hookCtx, cancel := s.hookContext(ctx)
	defer cancel()
	if err := s.notifier.Notify(hookCtx, sess.OrganizationID, paths...); err != nil {
		log.Printf("[service] WARN: failed to send refresh hint paths=%v: %v", paths, err)
	}
}

// hookContext survives request cancellation and is capped at hookTimeout.
func (s *Service) hookContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.hookTimeout)
}

func (s *Service) activeStore(sess domain.Session, requested string) string {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		return requested
	}
	return sess.ActiveStoreID
}

func dayWindow(date string, now time.Time) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, invalid("date", "must be YYYY-MM-DD")
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}
