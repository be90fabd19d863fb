package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local store used for tests and STORE_DRIVER=memory.
//
// Each request carries its own mutex, so accept/approve/reject/cancel and the
// expiry sweep are atomic per request. Lock order is reqMu, then a request's
// mutex, then userMu. A request mutex is never held while taking reqMu.
type MemoryStore struct {
	reqMu    sync.RWMutex
	requests map[string]*memRequest
	seq      int64

	userMu    sync.RWMutex
	users     map[string]User
	emails    map[string]string
	hospitals map[string]Hospital
	refresh   map[string]memRefresh
	revoked   map[string]time.Time

	clockMu sync.RWMutex
	now     func() time.Time
}

type memRequest struct {
	mu  sync.Mutex
	seq int64
	req SOSRequest
}

type memRefresh struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*memRequest),
		users:     make(map[string]User),
		emails:    make(map[string]string),
		hospitals: make(map[string]Hospital),
		refresh:   make(map[string]memRefresh),
		revoked:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for created/updated timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now
}

func (s *MemoryStore) clock() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.now().UTC()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateRequest(_ context.Context, req SOSRequest) (SOSRequest, error) {
	now := s.clock()
	req.Status = StatusOpen
	req.AcceptedDonors = nil
	req.CreatedAt = now
	req.UpdatedAt = now

	s.reqMu.Lock()
	if _, exists := s.requests[req.ID]; exists {
		s.reqMu.Unlock()
		return SOSRequest{}, fmt.Errorf("create request %s: duplicate id", req.ID)
	}
	s.seq++
	s.requests[req.ID] = &memRequest{seq: s.seq, req: req.clone()}
	s.reqMu.Unlock()

	return s.enrich(req), nil
}

func (s *MemoryStore) lookup(id string) (*memRequest, bool) {
	s.reqMu.RLock()
	defer s.reqMu.RUnlock()
	rec, ok := s.requests[id]
	return rec, ok
}

// mutate runs fn under the request's own mutex and returns the resulting copy.
func (s *MemoryStore) mutate(id string, fn func(req *SOSRequest, now time.Time) error) (SOSRequest, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return SOSRequest{}, ErrNotFound
	}
	now := s.clock()

	rec.mu.Lock()
	working := rec.req.clone()
	if err := fn(&working, now); err != nil {
		rec.mu.Unlock()
		return SOSRequest{}, err
	}
	rec.req = working
	out := working.clone()
	rec.mu.Unlock()

	return s.enrich(out), nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (SOSRequest, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return SOSRequest{}, ErrNotFound
	}
	rec.mu.Lock()
	out := rec.req.clone()
	rec.mu.Unlock()
	return s.enrich(out), nil
}

func (s *MemoryStore) AppendDonor(_ context.Context, requestID, donorID string) (SOSRequest, error) {
	return s.mutate(requestID, func(req *SOSRequest, now time.Time) error {
		if req.Status != StatusOpen {
			return ErrRequestClosed
		}
		if _, exists := req.Entry(donorID); exists {
			return ErrAlreadyAccepted
		}
		req.AcceptedDonors = append(req.AcceptedDonors, DonorEntry{
			DonorID:    donorID,
			Status:     DonorPending,
			AcceptedAt: now,
			UpdatedAt:  now,
		})
		req.UpdatedAt = now
		return nil
	})
}

func (s *MemoryStore) ApproveDonor(_ context.Context, requestID, donorID string) (SOSRequest, error) {
	return s.mutate(requestID, func(req *SOSRequest, now time.Time) error {
		if req.Status != StatusOpen {
			return ErrRequestClosed
		}
		for i := range req.AcceptedDonors {
			if req.AcceptedDonors[i].DonorID == donorID {
				req.AcceptedDonors[i].Status = DonorApproved
				req.AcceptedDonors[i].UpdatedAt = now
				req.Status = StatusCompleted
				req.UpdatedAt = now
				return nil
			}
		}
		return ErrEntryNotFound
	})
}

func (s *MemoryStore) RejectDonor(_ context.Context, requestID, donorID string) (bool, error) {
	changed := false
	_, err := s.mutate(requestID, func(req *SOSRequest, now time.Time) error {
		for i := range req.AcceptedDonors {
			if req.AcceptedDonors[i].DonorID == donorID && req.AcceptedDonors[i].Status == DonorPending {
				req.AcceptedDonors[i].Status = DonorRejected
				req.AcceptedDonors[i].UpdatedAt = now
				changed = true
			}
		}
		if changed {
			req.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *MemoryStore) CancelRequest(_ context.Context, requestID string) (SOSRequest, error) {
	return s.mutate(requestID, func(req *SOSRequest, now time.Time) error {
		if req.Status != StatusOpen {
			return ErrRequestClosed
		}
		req.Status = StatusCancelled
		req.UpdatedAt = now
		return nil
	})
}

// ExpireStale moves every open request created strictly before cutoff to expired.
func (s *MemoryStore) ExpireStale(_ context.Context, cutoff time.Time) (int, error) {
	now := s.clock()
	s.reqMu.RLock()
	defer s.reqMu.RUnlock()

	count := 0
	for _, rec := range s.requests {
		rec.mu.Lock()
		if rec.req.Status == StatusOpen && rec.req.CreatedAt.Before(cutoff) {
			rec.req.Status = StatusExpired
			rec.req.UpdatedAt = now
			count++
		}
		rec.mu.Unlock()
	}
	return count, nil
}

func (s *MemoryStore) listWhere(match func(SOSRequest) bool) []SOSRequest {
	type snap struct {
		seq int64
		req SOSRequest
	}
	s.reqMu.RLock()
	snaps := make([]snap, 0, len(s.requests))
	for _, rec := range s.requests {
		rec.mu.Lock()
		if match(rec.req) {
			snaps = append(snaps, snap{seq: rec.seq, req: rec.req.clone()})
		}
		rec.mu.Unlock()
	}
	s.reqMu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].req.CreatedAt.Equal(snaps[j].req.CreatedAt) {
			return snaps[i].req.CreatedAt.After(snaps[j].req.CreatedAt)
		}
		return snaps[i].seq > snaps[j].seq
	})

	out := make([]SOSRequest, 0, len(snaps))
	for _, item := range snaps {
		out = append(out, s.enrich(item.req))
	}
	return out
}

func (s *MemoryStore) ListRequestsByHospital(_ context.Context, hospitalID string) ([]SOSRequest, error) {
	return s.listWhere(func(r SOSRequest) bool { return r.HospitalID == hospitalID }), nil
}

func (s *MemoryStore) ListRequestsByDonor(_ context.Context, donorID string) ([]SOSRequest, error) {
	return s.listWhere(func(r SOSRequest) bool {
		_, ok := r.Entry(donorID)
		return ok
	}), nil
}

func (s *MemoryStore) ListOpenRequestsByBloodType(_ context.Context, bloodType BloodType) ([]SOSRequest, error) {
	return s.listWhere(func(r SOSRequest) bool {
		return r.Status == StatusOpen && r.BloodType == bloodType
	}), nil
}

func (s *MemoryStore) ListAllRequests(context.Context) ([]SOSRequest, error) {
	return s.listWhere(func(SOSRequest) bool { return true }), nil
}

func (s *MemoryStore) CountRequests(context.Context) (RequestCounts, error) {
	var counts RequestCounts
	for _, req := range s.listWhere(func(SOSRequest) bool { return true }) {
		counts.Total++
		if req.Status.IsCompleted() {
			counts.Completed++
		}
	}
	return counts, nil
}

func (s *MemoryStore) DemandByBloodType(context.Context) ([]BloodTypeCount, error) {
	counts := map[BloodType]int{}
	for _, req := range s.listWhere(func(SOSRequest) bool { return true }) {
		counts[req.BloodType]++
	}
	return sortedCounts(counts), nil
}

// enrich fills display names from the user table. Callers must not hold a request mutex.
func (s *MemoryStore) enrich(req SOSRequest) SOSRequest {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	if hospital, ok := s.users[req.HospitalID]; ok {
		req.HospitalName = hospital.Name
	}
	for i := range req.AcceptedDonors {
		if donor, ok := s.users[req.AcceptedDonors[i].DonorID]; ok {
			req.AcceptedDonors[i].DonorName = donor.Name
		}
	}
	return req
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, taken := s.emails[email]; taken {
		return ErrEmailTaken
	}
	now := s.clock()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	s.emails[email] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) ListUsers(_ context.Context, filter UserFilter) ([]User, error) {
	s.userMu.RLock()
	var ids map[string]bool
	if len(filter.IDs) > 0 {
		ids = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]User, 0, len(s.users))
	for _, user := range s.users {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		if ids != nil && !ids[user.ID] {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(user.Name), query) && !strings.Contains(user.Email, query) {
			continue
		}
		out = append(out, user)
	}
	s.userMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) SetUserActive(_ context.Context, id string, active bool) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.IsActive = active
	user.UpdatedAt = s.clock()
	s.users[id] = user
	return nil
}

// ToggleUserActive flips a user's activation under the user lock. Admin
// users are reported as not found.
func (s *MemoryStore) ToggleUserActive(_ context.Context, id string) (User, error) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	user, ok := s.users[id]
	if !ok || user.Role == "admin" {
		return User{}, ErrNotFound
	}
	user.IsActive = !user.IsActive
	user.UpdatedAt = s.clock()
	s.users[id] = user
	return user, nil
}

func (s *MemoryStore) UpdateDonorProfile(_ context.Context, id string, update DonorProfileUpdate) (User, error) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if update.BloodType != nil {
		user.BloodType = *update.BloodType
	}
	if update.IsAvailable != nil {
		user.IsAvailable = *update.IsAvailable
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.LastDonationDate != nil {
		value := *update.LastDonationDate
		user.LastDonationDate = &value
	}
	user.UpdatedAt = s.clock()
	s.users[id] = user
	return user, nil
}

func (s *MemoryStore) CountUsers(context.Context) (UserCounts, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	var counts UserCounts
	for _, user := range s.users {
		counts.Total++
		switch user.Role {
		case "donor":
			counts.Donors++
		case "hospital":
			counts.Hospitals++
		}
	}
	return counts, nil
}

func (s *MemoryStore) SupplyByBloodType(context.Context) ([]BloodTypeCount, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	counts := map[BloodType]int{}
	for _, user := range s.users {
		if user.Role == "donor" && user.IsActive && user.BloodType != "" {
			counts[user.BloodType]++
		}
	}
	return sortedCounts(counts), nil
}

func (s *MemoryStore) UpsertHospital(_ context.Context, hospital Hospital) (Hospital, error) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	if _, ok := s.users[hospital.UserID]; !ok {
		return Hospital{}, ErrNotFound
	}
	now := s.clock()
	if existing, ok := s.hospitals[hospital.UserID]; ok {
		hospital.CreatedAt = existing.CreatedAt
	} else {
		hospital.CreatedAt = now
	}
	hospital.UpdatedAt = now
	s.hospitals[hospital.UserID] = hospital
	return hospital, nil
}

func (s *MemoryStore) GetHospital(_ context.Context, userID string) (Hospital, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	hospital, ok := s.hospitals[userID]
	if !ok {
		return Hospital{}, ErrNotFound
	}
	return hospital, nil
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	s.refresh[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	record, ok := s.refresh[tokenHash]
	if !ok || !record.expiresAt.After(s.clock()) {
		return User{}, ErrNotFound
	}
	user, ok := s.users[record.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	delete(s.refresh, tokenHash)
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	s.revoked[jti] = expiresAt
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func sortedCounts(counts map[BloodType]int) []BloodTypeCount {
	out := make([]BloodTypeCount, 0, len(counts))
	for _, bt := range BloodTypes {
		if n := counts[bt]; n > 0 {
			out = append(out, BloodTypeCount{BloodType: bt, Count: n})
		}
	}
	return out
}

func paginate(users []User, limit, offset int) []User {
	if offset > 0 {
		if offset >= len(users) {
			return []User{}
		}
		users = users[offset:]
	}
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users
}
