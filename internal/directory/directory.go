// Package directory is the read side of the user table: display names and
// blood types for the SOS engine, and listing, activation and aggregate
// statistics for the admin console.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math"

	"bloodlink/api/internal/rbac"
	"bloodlink/api/internal/search"
	"bloodlink/api/internal/store"
	"github.com/sirupsen/logrus"
)

var ErrAdminImmutable = errors.New("admin users cannot be deactivated")

type Store interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ToggleUserActive(ctx context.Context, id string) (store.User, error)
	CountUsers(ctx context.Context) (store.UserCounts, error)
	SupplyByBloodType(ctx context.Context) ([]store.BloodTypeCount, error)
	CountRequests(ctx context.Context) (store.RequestCounts, error)
	DemandByBloodType(ctx context.Context) ([]store.BloodTypeCount, error)
}

type Directory struct {
	store  Store
	search *search.Service
	logger logrus.FieldLogger
}

func New(s Store, searcher *search.Service, logger logrus.FieldLogger) *Directory {
	if logger == nil {
		logger = logrus.New()
	}
	return &Directory{store: s, search: searcher, logger: logger.WithField("component", "directory")}
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}

// BloodType returns the blood type on the user row, which is the only place
// donor attributes live. An empty result means the profile is incomplete.
func (d *Directory) BloodType(ctx context.Context, userID string) (store.BloodType, error) {
	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.BloodType, nil
}

func (d *Directory) ListUsers(ctx context.Context, q search.Query) ([]store.User, error) {
	return d.search.SearchUsers(ctx, q)
}

// ToggleActive flips a user's activation in one store call. Admins cannot be toggled.
func (d *Directory) ToggleActive(ctx context.Context, userID string) (store.User, error) {
	user, err := d.store.ToggleUserActive(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		existing, lookupErr := d.store.GetUserByID(ctx, userID)
		if lookupErr != nil {
			return store.User{}, lookupErr
		}
		if rbac.Role(existing.Role) == rbac.RoleAdmin {
			return store.User{}, ErrAdminImmutable
		}
		return store.User{}, err
	}
	if err != nil {
		return store.User{}, fmt.Errorf("toggle user %s: %w", userID, err)
	}
	d.logger.WithFields(logrus.Fields{"user_id": userID, "active": user.IsActive}).Info("user activation toggled")
	d.search.IndexUser(user)
	return user, nil
}

type UserStats struct {
	Total     int `json:"total"`
	Donors    int `json:"donors"`
	Hospitals int `json:"hospitals"`
}

type SOSStats struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	SuccessRate int `json:"successRate"`
}

type Heatmap struct {
	Demand []store.BloodTypeCount `json:"demand"`
	Supply []store.BloodTypeCount `json:"supply"`
}

type Stats struct {
	Users   UserStats `json:"users"`
	SOS     SOSStats  `json:"sos"`
	Heatmap Heatmap   `json:"heatmap"`
}

// Stats aggregates user counts, request success rate and blood type demand
// against active donor supply.
func (d *Directory) Stats(ctx context.Context) (Stats, error) {
	users, err := d.store.CountUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	requests, err := d.store.CountRequests(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count requests: %w", err)
	}
	demand, err := d.store.DemandByBloodType(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("blood type demand: %w", err)
	}
	supply, err := d.store.SupplyByBloodType(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("blood type supply: %w", err)
	}
	return Stats{
		Users:   UserStats{Total: users.Total, Donors: users.Donors, Hospitals: users.Hospitals},
		SOS:     SOSStats{Total: requests.Total, Completed: requests.Completed, SuccessRate: successRate(requests)},
		Heatmap: Heatmap{Demand: demand, Supply: supply},
	}, nil
}

func successRate(counts store.RequestCounts) int {
	if counts.Total == 0 {
		return 0
	}
	return int(math.Round(float64(counts.Completed) / float64(counts.Total) * 100))
}
