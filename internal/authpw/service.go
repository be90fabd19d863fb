// Package authpw provides email/password authentication and the refresh
// session lifecycle.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodlink/api/internal/auth"
	"bloodlink/api/internal/rbac"
	"bloodlink/api/internal/store"
	"bloodlink/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields      = errors.New("name, email, and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidRole        = errors.New("role must be donor, hospital or lab")
	ErrBloodTypeRequired  = errors.New("donors must provide a valid blood type")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

const minPasswordLength = 8

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// SessionStore holds refresh sessions and the access token denylist.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
}

type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Clock      func() time.Time
}

// Service provides email/password authentication
type Service struct {
	users      UserStore
	sessions   SessionStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(users UserStore, sessions SessionStore, secret string, opts Options) *Service {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		users:      users,
		sessions:   sessions,
		secret:     []byte(secret),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Clock,
	}
}

type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Role      string
	BloodType string
	Phone     string
}

// Register creates an active account. Blood type is only stored for donors.
func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(in.Password) < minPasswordLength {
		return store.User{}, ErrWeakPassword
	}
	role := rbac.Normalize(in.Role)
	if !rbac.Registrable(role) {
		return store.User{}, ErrInvalidRole
	}
	var bloodType store.BloodType
	if role == rbac.RoleDonor {
		parsed, ok := store.ParseBloodType(in.BloodType)
		if !ok {
			return store.User{}, ErrBloodTypeRequired
		}
		bloodType = parsed
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: string(hash),
		Role:         string(role),
		BloodType:    bloodType,
		IsAvailable:  role == rbac.RoleDonor,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return s.users.GetUserByID(ctx, user.ID)
}

// Session is the token pair handed to a client after login or refresh.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             store.User
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return Session{}, ErrAccountDisabled
	}
	return s.issue(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, ErrInvalidRefresh
	}
	hash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidRefresh
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	user, err := s.users.GetUserByID(ctx, owner.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidRefresh
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return Session{}, ErrAccountDisabled
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issue(ctx, user)
}

// Logout revokes the refresh session and denylists the current access token
// until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, refreshToken, accessJTI string, accessExpiresAt time.Time) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	if accessJTI != "" && accessExpiresAt.After(s.now()) {
		if err := s.sessions.RevokeAccessToken(ctx, accessJTI, accessExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return nil
}

func (s *Service) issue(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	accessExp := now.Add(s.accessTTL)
	access, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Role:  user.Role,
		Email: user.Email,
		JTI:   util.NewID("jti"),
		Exp:   accessExp.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	refresh := util.NewID("rt")
	refreshExp := now.Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExp); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}
	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
