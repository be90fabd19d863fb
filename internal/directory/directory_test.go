package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bloodlink/api/internal/logging"
	"bloodlink/api/internal/search"
	"bloodlink/api/internal/store"
)

func newTestDirectory(t *testing.T) (*Directory, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	ctx := context.Background()
	for _, user := range []store.User{
		{ID: "a1", Name: "Admin", Email: "a@example.com", Role: "admin", IsActive: true},
		{ID: "h1", Name: "City Hospital", Email: "h@example.com", Role: "hospital", IsActive: true},
		{ID: "d1", Name: "Dana", Email: "d1@example.com", Role: "donor", BloodType: store.BloodONeg, IsActive: true},
		{ID: "d2", Name: "Eli", Email: "d2@example.com", Role: "donor", BloodType: store.BloodAPos, IsActive: true},
		{ID: "d3", Name: "Fay", Email: "d3@example.com", Role: "donor", IsActive: true},
	} {
		if err := mem.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return New(mem, search.NewService(nil, mem, logging.Discard()), logging.Discard()), mem
}

func TestLookups(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	name, err := dir.DisplayName(ctx, "d1")
	if err != nil || name != "Dana" {
		t.Fatalf("expected Dana, got %q err=%v", name, err)
	}
	bt, _ := dir.BloodType(ctx, "d3")
	if bt != "" {
		t.Fatalf("expected empty blood type for incomplete profile, got %q", bt)
	}
	if _, err := dir.DisplayName(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleActive(t *testing.T) {
	dir, mem := newTestDirectory(t)
	ctx := context.Background()

	user, err := dir.ToggleActive(ctx, "d1")
	if err != nil || user.IsActive {
		t.Fatalf("expected d1 deactivated, got %+v err=%v", user, err)
	}
	stored, _ := mem.GetUserByID(ctx, "d1")
	if stored.IsActive {
		t.Fatal("expected store to hold the deactivated flag")
	}
	user, _ = dir.ToggleActive(ctx, "d1")
	if !user.IsActive {
		t.Fatal("expected second toggle to reactivate")
	}
	if _, err := dir.ToggleActive(ctx, "a1"); !errors.Is(err, ErrAdminImmutable) {
		t.Fatalf("expected ErrAdminImmutable, got %v", err)
	}
	if _, err := dir.ToggleActive(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentTogglesAreNotLost(t *testing.T) {
	dir, mem := newTestDirectory(t)
	ctx := context.Background()

	const toggles = 10
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dir.ToggleActive(ctx, "d1"); err != nil {
				t.Errorf("ToggleActive: %v", err)
			}
		}()
	}
	wg.Wait()

	user, _ := mem.GetUserByID(ctx, "d1")
	if !user.IsActive {
		t.Fatalf("expected an even number of toggles to leave d1 active")
	}
}

func TestStats(t *testing.T) {
	dir, mem := newTestDirectory(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return base })

	for i, bt := range []store.BloodType{store.BloodONeg, store.BloodONeg, store.BloodAPos} {
		req, err := mem.CreateRequest(ctx, store.SOSRequest{ID: string(rune('x' + i)), HospitalID: "h1", BloodType: bt, Units: 1})
		if err != nil {
			t.Fatalf("CreateRequest: %v", err)
		}
		if i == 0 {
			_, _ = mem.AppendDonor(ctx, req.ID, "d1")
			_, _ = mem.ApproveDonor(ctx, req.ID, "d1")
		}
	}
	_ = mem.SetUserActive(ctx, "d2", false)

	stats, err := dir.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Users.Total != 5 || stats.Users.Donors != 3 || stats.Users.Hospitals != 1 {
		t.Fatalf("unexpected user stats %+v", stats.Users)
	}
	if stats.SOS.Total != 3 || stats.SOS.Completed != 1 || stats.SOS.SuccessRate != 33 {
		t.Fatalf("unexpected sos stats %+v", stats.SOS)
	}
	if len(stats.Heatmap.Demand) != 2 || stats.Heatmap.Demand[0].BloodType != store.BloodAPos || stats.Heatmap.Demand[1].Count != 2 {
		t.Fatalf("unexpected demand %+v", stats.Heatmap.Demand)
	}
	if len(stats.Heatmap.Supply) != 1 || stats.Heatmap.Supply[0].BloodType != store.BloodONeg {
		t.Fatalf("expected only active O- supply, got %+v", stats.Heatmap.Supply)
	}
}

func TestSuccessRateRounds(t *testing.T) {
	tests := []struct {
		counts store.RequestCounts
		want   int
	}{
		{store.RequestCounts{}, 0},
		{store.RequestCounts{Total: 3, Completed: 2}, 67},
		{store.RequestCounts{Total: 8, Completed: 1}, 13},
		{store.RequestCounts{Total: 4, Completed: 4}, 100},
	}
	for _, tc := range tests {
		if got := successRate(tc.counts); got != tc.want {
			t.Fatalf("successRate(%+v) = %d, want %d", tc.counts, got, tc.want)
		}
	}
}
