// Package search indexes the user directory in Meilisearch and falls back to
// the store's own substring match when the index is unavailable.
package search

import "bloodlink/api/internal/store"

const defaultLimit = 50

// UserRecord is what gets indexed for one user.
type UserRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	BloodType string `json:"bloodType"`
	IsActive  bool   `json:"isActive"`
}

func RecordFromUser(user store.User) UserRecord {
	return UserRecord{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Phone:     user.Phone,
		Role:      user.Role,
		BloodType: string(user.BloodType),
		IsActive:  user.IsActive,
	}
}

// Query is a directory search. Empty Text lists users.
type Query struct {
	Text   string
	Role   string
	Limit  int
	Offset int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

// Index is the Meilisearch side of the directory.
type Index interface {
	Healthy() bool
	SearchUserIDs(q Query) ([]string, error)
	IndexUsers(users []UserRecord) error
	DeleteUser(id string) error
}
