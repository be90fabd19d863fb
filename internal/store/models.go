package store

import (
	"strings"
	"time"
)

type BloodType string

const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A-"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B-"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB-"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O-"
)

var BloodTypes = []BloodType{BloodAPos, BloodANeg, BloodBPos, BloodBNeg, BloodABPos, BloodABNeg, BloodOPos, BloodONeg}

func ParseBloodType(value string) (BloodType, bool) {
	candidate := BloodType(strings.ToUpper(strings.TrimSpace(value)))
	for _, bt := range BloodTypes {
		if bt == candidate {
			return bt, true
		}
	}
	return "", false
}

func (b BloodType) Valid() bool {
	for _, bt := range BloodTypes {
		if bt == b {
			return true
		}
	}
	return false
}

type RequestStatus string

const (
	StatusOpen      RequestStatus = "open"
	StatusCompleted RequestStatus = "completed"
	// StatusFulfilled is accepted on read as a synonym of completed and never written.
	StatusFulfilled RequestStatus = "fulfilled"
	StatusCancelled RequestStatus = "cancelled"
	StatusExpired   RequestStatus = "expired"
)

func (s RequestStatus) IsTerminal() bool {
	return s != StatusOpen
}

func (s RequestStatus) IsCompleted() bool {
	return s == StatusCompleted || s == StatusFulfilled
}

type DonorStatus string

const (
	DonorPending  DonorStatus = "pending"
	DonorApproved DonorStatus = "approved"
	DonorRejected DonorStatus = "rejected"
)

type DonorEntry struct {
	DonorID    string
	DonorName  string
	Status     DonorStatus
	AcceptedAt time.Time
	UpdatedAt  time.Time
}

type SOSRequest struct {
	ID             string
	HospitalID     string
	HospitalName   string
	BloodType      BloodType
	Units          int
	IsCritical     bool
	Status         RequestStatus
	AcceptedDonors []DonorEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Entry returns the donor's entry on the request, if any.
func (r SOSRequest) Entry(donorID string) (DonorEntry, bool) {
	for _, entry := range r.AcceptedDonors {
		if entry.DonorID == donorID {
			return entry, true
		}
	}
	return DonorEntry{}, false
}

func (r SOSRequest) clone() SOSRequest {
	out := r
	out.AcceptedDonors = append([]DonorEntry(nil), r.AcceptedDonors...)
	return out
}

type User struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	PasswordHash     string
	Role             string
	BloodType        BloodType
	IsAvailable      bool
	IsActive         bool
	LastDonationDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DonorProfileUpdate carries optional donor attribute changes. Nil fields are left as-is.
type DonorProfileUpdate struct {
	BloodType        *BloodType
	IsAvailable      *bool
	Phone            *string
	LastDonationDate *time.Time
}

type Hospital struct {
	UserID             string
	Name               string
	RegistrationNumber string
	Address            string
	ContactPhone       string
	ContactEmail       string
	Latitude           *float64
	Longitude          *float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type UserFilter struct {
	Role   string
	Query  string
	IDs    []string
	Limit  int
	Offset int
}

type UserCounts struct {
	Total     int
	Donors    int
	Hospitals int
}

type RequestCounts struct {
	Total     int
	Completed int
}

type BloodTypeCount struct {
	BloodType BloodType `json:"bloodType"`
	Count     int       `json:"count"`
}
