package realtime

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/rbac"
	"bloodlink/api/internal/store"
)

var ErrProfileIncomplete = errors.New("donor profile incomplete")

// BloodTypeLookup resolves the blood type held on a donor's profile.
type BloodTypeLookup interface {
	BloodType(ctx context.Context, userID string) (store.BloodType, error)
}

// Classifier decides which topics a freshly authenticated connection joins.
type Classifier func(ctx context.Context, caller identity.Caller) ([]Topic, error)

// RoleClassifier joins donors to their blood-type group and private group and
// hospitals to their private group. Other roles join nothing.
func RoleClassifier(lookup BloodTypeLookup) Classifier {
	return func(ctx context.Context, caller identity.Caller) ([]Topic, error) {
		switch caller.Role {
		case rbac.RoleDonor:
			bt, err := lookup.BloodType(ctx, caller.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resolve donor blood type: %w", err)
			}
			if !bt.Valid() {
				return nil, ErrProfileIncomplete
			}
			return []Topic{DonorsByBloodType(bt), Donor(caller.ID)}, nil
		case rbac.RoleHospital:
			return []Topic{Hospital(caller.ID)}, nil
		default:
			return nil, nil
		}
	}
}
