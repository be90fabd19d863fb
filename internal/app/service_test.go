package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodlink/api/internal/auth"
	"bloodlink/api/internal/authpw"
	"bloodlink/api/internal/directory"
	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/logging"
	"bloodlink/api/internal/realtime"
	"bloodlink/api/internal/search"
	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
	"bloodlink/api/internal/util"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn               func(context.Context) error
	getUserByIDFn        func(context.Context, string) (store.User, error)
	updateDonorProfileFn func(context.Context, string, store.DonorProfileUpdate) (store.User, error)
	upsertHospitalFn     func(context.Context, store.Hospital) (store.Hospital, error)
	getHospitalFn        func(context.Context, string) (store.Hospital, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) UpdateDonorProfile(ctx context.Context, id string, update store.DonorProfileUpdate) (store.User, error) {
	if f.updateDonorProfileFn != nil {
		return f.updateDonorProfileFn(ctx, id, update)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) UpsertHospital(ctx context.Context, hospital store.Hospital) (store.Hospital, error) {
	if f.upsertHospitalFn != nil {
		return f.upsertHospitalFn(ctx, hospital)
	}
	return hospital, nil
}
func (f *fakeStore) GetHospital(ctx context.Context, userID string) (store.Hospital, error) {
	if f.getHospitalFn != nil {
		return f.getHospitalFn(ctx, userID)
	}
	return store.Hospital{}, store.ErrNotFound
}

func newTestService(fs *fakeStore) *Service {
	return NewService(Deps{Store: fs, Logger: logging.Discard()})
}

// harness wires the real engine, directory and auth service over the memory store.
type harness struct {
	t       *testing.T
	mem     *store.MemoryStore
	hub     *realtime.Hub
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemoryStore()
	logger := logging.Discard()
	searcher := search.NewService(nil, mem, logger)
	dir := directory.New(mem, searcher, logger)
	hub := realtime.NewHub(realtime.NewRegistry(), false, logger)
	engine := sos.NewEngine(mem, sos.Options{Dispatcher: hub, Directory: dir, Logger: logger})
	svc := NewService(Deps{
		Store:     mem,
		Gate:      identity.NewGate([]byte(testSecret), mem, mem),
		Engine:    engine,
		Auth:      authpw.NewService(mem, mem, testSecret, authpw.Options{AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}),
		Directory: dir,
		Search:    searcher,
		Logger:    logger,
	})
	return &harness{t: t, mem: mem, hub: hub, handler: NewHTTPServer(svc, "*", logger).Handler()}
}

func (h *harness) addUser(id, name, role string, bt store.BloodType) string {
	h.t.Helper()
	err := h.mem.CreateUser(context.Background(), store.User{
		ID: id, Name: name, Email: id + "@example.com", Role: role, BloodType: bt, IsActive: true,
	})
	if err != nil {
		h.t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return h.token(id, role)
}

func (h *harness) token(userID, role string) string {
	h.t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  userID,
		Role: role,
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		h.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if code != "" && payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	return payload
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{"engine not found", &sos.Error{Kind: sos.KindNotFound, Code: sos.CodeRequestNotFound, Message: "SOS not found"}, http.StatusNotFound, sos.CodeRequestNotFound},
		{"engine conflict", fmt.Errorf("wrapped: %w", &sos.Error{Kind: sos.KindConflict, Code: sos.CodeRequestClosed}), http.StatusConflict, sos.CodeRequestClosed},
		{"engine forbidden", &sos.Error{Kind: sos.KindForbidden, Code: sos.CodeForbidden}, http.StatusForbidden, sos.CodeForbidden},
		{"engine invalid", &sos.Error{Kind: sos.KindInvalid, Code: sos.CodeInvalidInput}, http.StatusBadRequest, sos.CodeInvalidInput},
		{"engine internal hides detail", &sos.Error{Kind: sos.KindInternal, Code: "WHATEVER", Err: errors.New("db down")}, http.StatusInternalServerError, sos.CodeServerError},
		{"disabled", identity.ErrDisabled, http.StatusForbidden, "FORBIDDEN"},
		{"unauthenticated", fmt.Errorf("%w: bad", identity.ErrUnauthenticated), http.StatusUnauthorized, sos.CodeUnauthenticated},
		{"credentials", authpw.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"email taken", authpw.ErrEmailTaken, http.StatusConflict, "EMAIL_EXISTS"},
		{"weak password", authpw.ErrWeakPassword, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"admin immutable", directory.ErrAdminImmutable, http.StatusBadRequest, "ADMIN_IMMUTABLE"},
		{"store not found", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, sos.CodeServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("expected %d/%s, got %d/%s", tc.status, tc.code, status, code)
			}
		})
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	svc := newTestService(&fakeStore{})
	err := svc.validate.Struct(CreateRequestBody{BloodType: "C+", Units: 0})
	status, code, _, details := mapError(err)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d/%s", status, code)
	}
	fields := map[string]string{}
	for _, fe := range details.([]fieldError) {
		fields[fe.Field] = fe.Message
	}
	if fields["bloodType"] != "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-" {
		t.Fatalf("unexpected bloodType message %q", fields["bloodType"])
	}
	if fields["units"] != "this field is required" {
		t.Fatalf("unexpected units message %q", fields["units"])
	}
}

func TestDonorProfileRequiresDonorRole(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.DonorProfile(context.Background(), identity.Caller{ID: "h1", Role: "hospital"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 domain error, got %v", err)
	}
}

func TestUpdateDonorProfileNormalizesBloodType(t *testing.T) {
	var got store.DonorProfileUpdate
	fs := &fakeStore{
		updateDonorProfileFn: func(_ context.Context, id string, update store.DonorProfileUpdate) (store.User, error) {
			got = update
			return store.User{ID: id, Role: "donor", BloodType: *update.BloodType}, nil
		},
	}
	svc := newTestService(fs)
	bt := " ab- "
	view, err := svc.UpdateDonorProfile(context.Background(), identity.Caller{ID: "d1", Role: "donor"}, DonorProfileBody{BloodType: &bt})
	if err != nil {
		t.Fatalf("UpdateDonorProfile: %v", err)
	}
	if got.BloodType == nil || *got.BloodType != store.BloodABNeg || view.BloodType != "AB-" {
		t.Fatalf("expected normalized AB-, got update=%v view=%+v", got.BloodType, view)
	}

	future := time.Now().Add(48 * time.Hour)
	_, err = svc.UpdateDonorProfile(context.Background(), identity.Caller{ID: "d1", Role: "donor"}, DonorProfileBody{LastDonationDate: &future})
	if status, _, _, _ := mapError(err); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for future donation date, got %v", err)
	}
}
