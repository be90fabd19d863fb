package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bloodlink/api/internal/authpw"
	"bloodlink/api/internal/directory"
	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/rbac"
	"bloodlink/api/internal/search"
	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Store is the slice of persistence the HTTP service reads directly. SOS
// mutations go through the engine, never through this interface.
type Store interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateDonorProfile(ctx context.Context, id string, update store.DonorProfileUpdate) (store.User, error)
	UpsertHospital(ctx context.Context, hospital store.Hospital) (store.Hospital, error)
	GetHospital(ctx context.Context, userID string) (store.Hospital, error)
}

type Deps struct {
	Store     Store
	Gate      *identity.Gate
	Engine    *sos.Engine
	Auth      *authpw.Service
	Directory *directory.Directory
	Search    *search.Service
	Logger    logrus.FieldLogger
}

type Service struct {
	store     Store
	gate      *identity.Gate
	engine    *sos.Engine
	auth      *authpw.Service
	directory *directory.Directory
	search    *search.Service
	validate  *validator.Validate
	logger    logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:     deps.Store,
		gate:      deps.Gate,
		engine:    deps.Engine,
		auth:      deps.Auth,
		directory: deps.Directory,
		search:    deps.Search,
		validate:  newValidator(),
		logger:    logger.WithField("component", "app"),
	}
}

func (s *Service) reindex(user store.User) {
	if s.search != nil {
		s.search.IndexUser(user)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate resolves a bearer token through the identity gate.
func (s *Service) Authenticate(ctx context.Context, token string) (identity.Token, error) {
	return s.gate.VerifyToken(ctx, token)
}

var errForbidden = domainError(http.StatusForbidden, sos.CodeForbidden, "Forbidden", nil)

func requireRole(caller identity.Caller, role rbac.Role) error {
	if caller.Role != role {
		return errForbidden
	}
	return nil
}

func requireAction(caller identity.Caller, action rbac.Action) error {
	if !caller.Can(action) {
		return errForbidden
	}
	return nil
}

// Auth

type RegisterBody struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	Role      string `json:"role" validate:"required,oneof=donor hospital lab"`
	BloodType string `json:"bloodType" validate:"omitempty,bloodtype"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
}

func (s *Service) Register(ctx context.Context, body RegisterBody) (UserView, error) {
	if err := s.validate.Struct(body); err != nil {
		return UserView{}, err
	}
	user, err := s.auth.Register(ctx, authpw.RegisterInput{
		Name:      body.Name,
		Email:     body.Email,
		Password:  body.Password,
		Role:      body.Role,
		BloodType: body.BloodType,
		Phone:     body.Phone,
	})
	if err != nil {
		return UserView{}, err
	}
	s.reindex(user)
	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user registered")
	return userView(user), nil
}

type LoginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) Login(ctx context.Context, body LoginBody) (SessionView, error) {
	if err := s.validate.Struct(body); err != nil {
		return SessionView{}, err
	}
	session, err := s.auth.Login(ctx, body.Email, body.Password)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(session), nil
}

type RefreshBody struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (s *Service) Refresh(ctx context.Context, body RefreshBody) (SessionView, error) {
	if err := s.validate.Struct(body); err != nil {
		return SessionView{}, err
	}
	session, err := s.auth.Refresh(ctx, body.RefreshToken)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(session), nil
}

// Logout revokes whatever the client presented. A missing or invalid access
// token still lets the refresh token be revoked.
func (s *Service) Logout(ctx context.Context, token identity.Token, refreshToken string) error {
	return s.auth.Logout(ctx, refreshToken, token.ID, token.ExpiresAt)
}

func (s *Service) Me(ctx context.Context, caller identity.Caller) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, caller.ID)
	if errors.Is(err, store.ErrNotFound) {
		return UserView{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
	}
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

// Donor profile

type DonorProfileBody struct {
	BloodType        *string    `json:"bloodType" validate:"omitempty,bloodtype"`
	IsAvailable      *bool      `json:"isAvailable"`
	Phone            *string    `json:"phone" validate:"omitempty,max=32"`
	LastDonationDate *time.Time `json:"lastDonationDate"`
}

func (s *Service) DonorProfile(ctx context.Context, caller identity.Caller) (UserView, error) {
	if err := requireRole(caller, rbac.RoleDonor); err != nil {
		return UserView{}, err
	}
	return s.Me(ctx, caller)
}

func (s *Service) UpdateDonorProfile(ctx context.Context, caller identity.Caller, body DonorProfileBody) (UserView, error) {
	if err := requireRole(caller, rbac.RoleDonor); err != nil {
		return UserView{}, err
	}
	if err := s.validate.Struct(body); err != nil {
		return UserView{}, err
	}
	update := store.DonorProfileUpdate{
		IsAvailable:      body.IsAvailable,
		Phone:            body.Phone,
		LastDonationDate: body.LastDonationDate,
	}
	if body.BloodType != nil {
		bt, _ := store.ParseBloodType(*body.BloodType)
		update.BloodType = &bt
	}
	if update.LastDonationDate != nil && update.LastDonationDate.After(time.Now()) {
		return UserView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "lastDonationDate cannot be in the future", nil)
	}
	user, err := s.store.UpdateDonorProfile(ctx, caller.ID, update)
	if err != nil {
		return UserView{}, fmt.Errorf("update donor profile: %w", err)
	}
	s.reindex(user)
	return userView(user), nil
}

func (s *Service) DonorFeed(ctx context.Context, caller identity.Caller) ([]RequestView, error) {
	requests, err := s.engine.OpenFeed(ctx, caller)
	if err != nil {
		return nil, err
	}
	return requestViews(requests), nil
}

// Hospital profile

type HospitalBody struct {
	Name               string   `json:"name" validate:"required,min=2,max=200"`
	RegistrationNumber string   `json:"registrationNumber" validate:"omitempty,max=64"`
	Address            string   `json:"address" validate:"omitempty,max=500"`
	ContactPhone       string   `json:"contactPhone" validate:"omitempty,max=32"`
	ContactEmail       string   `json:"contactEmail" validate:"omitempty,email"`
	Latitude           *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude          *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

var errHospitalNotFound = domainError(http.StatusNotFound, "HOSPITAL_NOT_FOUND", "Hospital profile not found", nil)

func (s *Service) UpsertHospital(ctx context.Context, caller identity.Caller, body HospitalBody) (HospitalView, error) {
	if err := requireRole(caller, rbac.RoleHospital); err != nil {
		return HospitalView{}, err
	}
	if err := s.validate.Struct(body); err != nil {
		return HospitalView{}, err
	}
	hospital, err := s.store.UpsertHospital(ctx, store.Hospital{
		UserID:             caller.ID,
		Name:               strings.TrimSpace(body.Name),
		RegistrationNumber: strings.TrimSpace(body.RegistrationNumber),
		Address:            strings.TrimSpace(body.Address),
		ContactPhone:       strings.TrimSpace(body.ContactPhone),
		ContactEmail:       strings.TrimSpace(body.ContactEmail),
		Latitude:           body.Latitude,
		Longitude:          body.Longitude,
	})
	if err != nil {
		return HospitalView{}, fmt.Errorf("upsert hospital: %w", err)
	}
	return hospitalView(hospital), nil
}

func (s *Service) MyHospital(ctx context.Context, caller identity.Caller) (HospitalView, error) {
	if err := requireRole(caller, rbac.RoleHospital); err != nil {
		return HospitalView{}, err
	}
	return s.Hospital(ctx, caller.ID)
}

func (s *Service) Hospital(ctx context.Context, userID string) (HospitalView, error) {
	hospital, err := s.store.GetHospital(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return HospitalView{}, errHospitalNotFound
	}
	if err != nil {
		return HospitalView{}, err
	}
	return hospitalView(hospital), nil
}

// SOS requests

type CreateRequestBody struct {
	BloodType  string `json:"bloodType" validate:"required,bloodtype"`
	Units      int    `json:"units" validate:"required,gte=1,lte=100"`
	IsCritical bool   `json:"isCritical"`
}

func (s *Service) CreateRequest(ctx context.Context, caller identity.Caller, body CreateRequestBody) (RequestView, error) {
	if err := s.validate.Struct(body); err != nil {
		return RequestView{}, err
	}
	bt, _ := store.ParseBloodType(body.BloodType)
	req, err := s.engine.Create(ctx, caller, sos.CreateInput{BloodType: bt, Units: body.Units, IsCritical: body.IsCritical})
	if err != nil {
		return RequestView{}, err
	}
	return requestView(req), nil
}

func (s *Service) AcceptRequest(ctx context.Context, caller identity.Caller, requestID string) error {
	return s.engine.Accept(ctx, caller, requestID)
}

func (s *Service) ApproveDonor(ctx context.Context, caller identity.Caller, requestID, donorID string) (RequestView, error) {
	req, err := s.engine.Approve(ctx, caller, requestID, donorID)
	if err != nil {
		return RequestView{}, err
	}
	return requestView(req), nil
}

func (s *Service) RejectDonor(ctx context.Context, caller identity.Caller, requestID, donorID string) error {
	return s.engine.Reject(ctx, caller, requestID, donorID)
}

func (s *Service) HospitalRequests(ctx context.Context, caller identity.Caller) ([]RequestView, error) {
	requests, err := s.engine.ListForHospital(ctx, caller)
	if err != nil {
		return nil, err
	}
	return requestViews(requests), nil
}

func (s *Service) DonorHistory(ctx context.Context, caller identity.Caller) ([]DonorHistoryView, error) {
	items, err := s.engine.ListForDonor(ctx, caller)
	if err != nil {
		return nil, err
	}
	return donorHistoryViews(items), nil
}

// Admin

func (s *Service) CancelRequest(ctx context.Context, caller identity.Caller, requestID string) (RequestView, error) {
	req, err := s.engine.Cancel(ctx, caller, requestID)
	if err != nil {
		return RequestView{}, err
	}
	return requestView(req), nil
}

func (s *Service) Cleanup(ctx context.Context, caller identity.Caller) (int, error) {
	return s.engine.Cleanup(ctx, caller)
}

func (s *Service) AllRequests(ctx context.Context, caller identity.Caller) ([]RequestView, error) {
	requests, err := s.engine.ListAll(ctx, caller)
	if err != nil {
		return nil, err
	}
	return requestViews(requests), nil
}

func (s *Service) Stats(ctx context.Context, caller identity.Caller) (directory.Stats, error) {
	if err := requireAction(caller, rbac.ActionAdmin); err != nil {
		return directory.Stats{}, err
	}
	return s.directory.Stats(ctx)
}

func (s *Service) ListUsers(ctx context.Context, caller identity.Caller, q search.Query) ([]UserView, error) {
	if err := requireAction(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if q.Role != "" && rbac.Normalize(q.Role) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown role filter", nil)
	}
	users, err := s.directory.ListUsers(ctx, q)
	if err != nil {
		return nil, err
	}
	return userViews(users), nil
}

func (s *Service) ToggleUser(ctx context.Context, caller identity.Caller, userID string) (UserView, error) {
	if err := requireAction(caller, rbac.ActionAdmin); err != nil {
		return UserView{}, err
	}
	user, err := s.directory.ToggleActive(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return UserView{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
	}
	if err != nil {
		return UserView{}, err
	}
	s.logger.WithFields(logrus.Fields{"actor_id": caller.ID, "user_id": userID, "active": user.IsActive}).Info("admin toggled user")
	return userView(user), nil
}
