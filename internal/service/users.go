package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fixdesk/backend/internal/authz"
	"fixdesk/backend/internal/domain"
	"fixdesk/backend/internal/xid"
)

const minPasswordLength = 10

func userView(u domain.UserAccount) domain.UserView {
	return domain.UserView{
		ID:             u.ID,
		OrganizationID: u.OrganizationID,
		DefaultStoreID: u.DefaultStoreID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		Active:         u.Active,
		CreatedAt:      u.CreatedAt,
	}
}

func (s *Service) CreateUser(ctx context.Context, sess domain.Session, req domain.UserCreateRequest) (domain.UserView, error) {
	if err := s.authorize(sess, authz.UsersCreate); err != nil {
		return domain.UserView{}, err
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.Role = domain.Role(strings.ToUpper(strings.TrimSpace(string(req.Role))))
	req.DefaultStoreID = s.activeStore(sess, req.DefaultStoreID)

	var v validator
	_, mailErr := mail.ParseAddress(req.Email)
	v.check(req.Email != "" && mailErr == nil, "email", "must be a valid address")
	v.required(req.Name, "name")
	v.check(len(req.Password) >= minPasswordLength, "password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	v.check(req.Role.Valid(), "role", "must be one of ADMIN, MANAGER, TECHNICIAN, STAFF")
	v.required(req.DefaultStoreID, "default_store_id")
	if err := v.err(); err != nil {
		return domain.UserView{}, err
	}

	if _, err := s.repo.GetStore(ctx, sess.OrganizationID, req.DefaultStoreID); err != nil {
		return domain.UserView{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.repo.CreateUser(ctx, domain.UserAccount{
		ID:             xid.New("usr"),
		OrganizationID: sess.OrganizationID,
		DefaultStoreID: req.DefaultStoreID,
		Email:          req.Email,
		Name:           req.Name,
		PasswordHash:   string(hash),
		Role:           req.Role,
		Active:         true,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.UserView{}, err
	}

	s.logAudit(ctx, sess, "user_create", "user", created.ID, fmt.Sprintf("email=%s,role=%s", created.Email, created.Role))
	return userView(*created), nil
}
