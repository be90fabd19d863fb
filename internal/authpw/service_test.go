package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodlink/api/internal/auth"
	"bloodlink/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore and SessionStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	refresh    map[string]string // token hash -> userID
	revoked    map[string]time.Time
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		refresh:    make(map[string]string),
		revoked:    make(map[string]time.Time),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, ok := m.emailIndex[user.Email]; ok {
		return store.ErrEmailTaken
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.refresh[tokenHash] = userID
	return nil
}

func (m *mockUserStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if userID, ok := m.refresh[tokenHash]; ok {
		return store.User{ID: userID}, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(m.refresh, tokenHash)
	return nil
}

func (m *mockUserStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	m.revoked[jti] = expiresAt
	return nil
}

func newTestService(m *mockUserStore) *Service {
	return NewService(m, m, "test-secret", Options{AccessTTL: time.Minute, RefreshTTL: time.Hour})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	t.Run("successful donor registration", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterInput{
			Name:      "Dana",
			Email:     " Dana@Example.com ",
			Password:  "password123",
			Role:      "donor",
			BloodType: "o-",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID == "" || user.Email != "dana@example.com" {
			t.Fatalf("unexpected user %+v", user)
		}
		if user.BloodType != store.BloodONeg || !user.IsActive || !user.IsAvailable {
			t.Errorf("expected active available O- donor, got %+v", user)
		}
		if user.PasswordHash == "password123" || user.PasswordHash == "" {
			t.Error("expected password to be hashed")
		}
	})

	t.Run("hospital ignores blood type", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterInput{Name: "City", Email: "city@example.com", Password: "password123", Role: "hospital", BloodType: "A+"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.BloodType != "" {
			t.Errorf("expected no blood type on hospital, got %q", user.BloodType)
		}
	})

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate email", RegisterInput{Name: "D", Email: "dana@example.com", Password: "password123", Role: "donor", BloodType: "A+"}, ErrEmailTaken},
		{"short password", RegisterInput{Name: "D", Email: "d2@example.com", Password: "short", Role: "donor", BloodType: "A+"}, ErrWeakPassword},
		{"missing fields", RegisterInput{}, ErrMissingFields},
		{"admin not registrable", RegisterInput{Name: "A", Email: "a@example.com", Password: "password123", Role: "admin"}, ErrInvalidRole},
		{"donor without blood type", RegisterInput{Name: "D", Email: "d3@example.com", Password: "password123", Role: "donor"}, ErrBloodTypeRequired},
		{"donor with bad blood type", RegisterInput{Name: "D", Email: "d4@example.com", Password: "password123", Role: "donor", BloodType: "C+"}, ErrBloodTypeRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)

	registered, err := svc.Register(ctx, RegisterInput{Name: "Dana", Email: "test@example.com", Password: "password123", Role: "donor", BloodType: "B+"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("successful login", func(t *testing.T) {
		session, err := svc.Login(ctx, "TEST@example.com", "password123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session.User.ID != registered.ID {
			t.Errorf("expected user %s, got %s", registered.ID, session.User.ID)
		}
		claims, err := auth.ParseToken([]byte("test-secret"), session.AccessToken)
		if err != nil {
			t.Fatalf("parse access token: %v", err)
		}
		if claims.Sub != registered.ID || claims.Role != "donor" {
			t.Errorf("unexpected claims %+v", claims)
		}
		if _, ok := mockStore.refresh[auth.HashToken(session.RefreshToken)]; !ok {
			t.Error("expected refresh session to be stored by hash")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.Login(ctx, "test@example.com", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		if _, err := svc.Login(ctx, "nonexistent@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("disabled account", func(t *testing.T) {
		user := mockStore.users[registered.ID]
		user.IsActive = false
		mockStore.users[registered.ID] = user
		defer func() {
			user.IsActive = true
			mockStore.users[registered.ID] = user
		}()
		if _, err := svc.Login(ctx, "test@example.com", "password123"); !errors.Is(err, ErrAccountDisabled) {
			t.Fatalf("expected ErrAccountDisabled, got %v", err)
		}
	})
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)
	_, _ = svc.Register(ctx, RegisterInput{Name: "City", Email: "h@example.com", Password: "password123", Role: "hospital"})
	first, err := svc.Login(ctx, "h@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("expected rotated token to be rejected, got %v", err)
	}
	if _, err := svc.Refresh(ctx, ""); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("expected empty token to be rejected, got %v", err)
	}

	user := mockStore.users[second.User.ID]
	user.IsActive = false
	mockStore.users[user.ID] = user
	if _, err := svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := newTestService(mockStore)
	_, _ = svc.Register(ctx, RegisterInput{Name: "Dana", Email: "d@example.com", Password: "password123", Role: "donor", BloodType: "AB-"})
	session, _ := svc.Login(ctx, "d@example.com", "password123")
	claims, _ := auth.ParseToken([]byte("test-secret"), session.AccessToken)

	if err := svc.Logout(ctx, session.RefreshToken, claims.JTI, time.Unix(claims.Exp, 0)); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(mockStore.refresh) != 0 {
		t.Error("expected refresh session to be revoked")
	}
	if _, ok := mockStore.revoked[claims.JTI]; !ok {
		t.Error("expected access token to be denylisted")
	}

	if err := svc.Logout(ctx, "", "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("logout with expired token: %v", err)
	}
	if _, ok := mockStore.revoked["stale"]; ok {
		t.Error("expected expired access token to be skipped")
	}
}
