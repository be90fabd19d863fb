package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestPostgresStoreSOSLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)
	for _, user := range []User{
		{ID: "h1", Name: "City Hospital", Email: "h1@example.com", PasswordHash: "x", Role: "hospital", IsActive: true},
		{ID: "d1", Name: "Dana", Email: "d1@example.com", PasswordHash: "x", Role: "donor", BloodType: BloodONeg, IsActive: true},
		{ID: "d2", Name: "Eli", Email: "d2@example.com", PasswordHash: "x", Role: "donor", BloodType: BloodONeg, IsActive: true},
		{ID: "a1", Name: "Admin", Email: "a1@example.com", PasswordHash: "x", Role: "admin", IsActive: true},
	} {
		if err := s.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser(%s): %v", user.ID, err)
		}
	}
	if err := s.CreateUser(ctx, User{ID: "dup", Name: "Dup", Email: "D1@example.com", PasswordHash: "x", Role: "donor", IsActive: true}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	created, err := s.CreateRequest(ctx, SOSRequest{ID: "r1", HospitalID: "h1", BloodType: BloodONeg, Units: 2, IsCritical: true})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if created.Status != StatusOpen {
		t.Fatalf("expected open, got %s", created.Status)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendDonor(ctx, "r1", "d1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyAccepted) {
				t.Errorf("unexpected append error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one accept, got %d", successes)
	}

	if _, err := s.AppendDonor(ctx, "r1", "d2"); err != nil {
		t.Fatalf("AppendDonor d2: %v", err)
	}

	approved, err := s.ApproveDonor(ctx, "r1", "d1")
	if err != nil {
		t.Fatalf("ApproveDonor: %v", err)
	}
	if approved.Status != StatusCompleted || len(approved.AcceptedDonors) != 2 {
		t.Fatalf("unexpected approved request %+v", approved)
	}
	if entry, _ := approved.Entry("d1"); entry.Status != DonorApproved || entry.DonorName != "Dana" {
		t.Fatalf("unexpected d1 entry %+v", entry)
	}

	changed, err := s.RejectDonor(ctx, "r1", "d2")
	if err != nil || !changed {
		t.Fatalf("expected pending d2 to be rejected, got changed=%v err=%v", changed, err)
	}
	if changed, err := s.RejectDonor(ctx, "r1", "d2"); err != nil || changed {
		t.Fatalf("expected second reject to be a no-op, got changed=%v err=%v", changed, err)
	}
	if changed, err := s.RejectDonor(ctx, "r1", "d1"); err != nil || changed {
		t.Fatalf("expected approved entry to stay approved, got changed=%v err=%v", changed, err)
	}
	if changed, err := s.RejectDonor(ctx, "r1", "ghost"); err != nil || changed {
		t.Fatalf("expected missing entry to be a no-op, got changed=%v err=%v", changed, err)
	}
	if _, err := s.RejectDonor(ctx, "missing", "d2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rejected, _ := s.GetRequest(ctx, "r1")
	if entry, _ := rejected.Entry("d2"); entry.Status != DonorRejected {
		t.Fatalf("expected d2 rejected, got %+v", entry)
	}
	if _, err := s.CancelRequest(ctx, "r1"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected ErrRequestClosed, got %v", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE sos_requests SET status = 'open' WHERE id = 'r1'`); err == nil {
		t.Fatal("expected status guard trigger to block reopening")
	}

	if _, err := s.CreateRequest(ctx, SOSRequest{ID: "r2", HospitalID: "h1", BloodType: BloodAPos, Units: 1}); err != nil {
		t.Fatalf("CreateRequest r2: %v", err)
	}
	cancelled, err := s.CancelRequest(ctx, "r2")
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("expected r2 cancelled, got %+v err=%v", cancelled, err)
	}
	if _, err := s.CancelRequest(ctx, "r2"); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("expected second cancel to conflict, got %v", err)
	}
	if _, err := s.CancelRequest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expired, err := s.ExpireStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected closed requests to be skipped, got %d", expired)
	}

	toggled, err := s.ToggleUserActive(ctx, "d2")
	if err != nil || toggled.IsActive {
		t.Fatalf("expected d2 deactivated, got %+v err=%v", toggled, err)
	}
	if _, err := s.ToggleUserActive(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected admin row to be skipped, got %v", err)
	}
	if err := s.SetUserActive(ctx, "d2", true); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	history, err := s.ListRequestsByDonor(ctx, "d1")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one donor history row, got %d err=%v", len(history), err)
	}
}
