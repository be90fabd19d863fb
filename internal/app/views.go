package app

import (
	"time"

	"bloodlink/api/internal/authpw"
	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
)

type UserView struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone,omitempty"`
	Role             string     `json:"role"`
	BloodType        string     `json:"bloodType,omitempty"`
	IsAvailable      bool       `json:"isAvailable"`
	IsActive         bool       `json:"isActive"`
	LastDonationDate *time.Time `json:"lastDonationDate,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func userView(user store.User) UserView {
	return UserView{
		ID:               user.ID,
		Name:             user.Name,
		Email:            user.Email,
		Phone:            user.Phone,
		Role:             user.Role,
		BloodType:        string(user.BloodType),
		IsAvailable:      user.IsAvailable,
		IsActive:         user.IsActive,
		LastDonationDate: user.LastDonationDate,
		CreatedAt:        user.CreatedAt,
	}
}

func userViews(users []store.User) []UserView {
	out := make([]UserView, 0, len(users))
	for _, user := range users {
		out = append(out, userView(user))
	}
	return out
}

type DonorEntryView struct {
	DonorID    string    `json:"donorId"`
	DonorName  string    `json:"donorName"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type RequestView struct {
	ID             string           `json:"id"`
	HospitalID     string           `json:"hospitalId"`
	HospitalName   string           `json:"hospitalName"`
	BloodType      string           `json:"bloodType"`
	Units          int              `json:"units"`
	IsCritical     bool             `json:"isCritical"`
	Status         string           `json:"status"`
	AcceptedDonors []DonorEntryView `json:"acceptedDonors"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func requestView(req store.SOSRequest) RequestView {
	donors := make([]DonorEntryView, 0, len(req.AcceptedDonors))
	for _, entry := range req.AcceptedDonors {
		donors = append(donors, DonorEntryView{
			DonorID:    entry.DonorID,
			DonorName:  entry.DonorName,
			Status:     string(entry.Status),
			AcceptedAt: entry.AcceptedAt,
		})
	}
	return RequestView{
		ID:             req.ID,
		HospitalID:     req.HospitalID,
		HospitalName:   req.HospitalName,
		BloodType:      string(req.BloodType),
		Units:          req.Units,
		IsCritical:     req.IsCritical,
		Status:         string(req.Status),
		AcceptedDonors: donors,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}
}

func requestViews(requests []store.SOSRequest) []RequestView {
	out := make([]RequestView, 0, len(requests))
	for _, req := range requests {
		out = append(out, requestView(req))
	}
	return out
}

// DonorHistoryView is a request from one donor's side; status is the donor's entry status.
type DonorHistoryView struct {
	ID            string    `json:"id"`
	HospitalID    string    `json:"hospitalId"`
	HospitalName  string    `json:"hospitalName"`
	BloodType     string    `json:"bloodType"`
	Units         int       `json:"units"`
	IsCritical    bool      `json:"isCritical"`
	Status        string    `json:"status"`
	RequestStatus string    `json:"requestStatus"`
	CreatedAt     time.Time `json:"createdAt"`
}

func donorHistoryViews(items []sos.DonorHistoryItem) []DonorHistoryView {
	out := make([]DonorHistoryView, 0, len(items))
	for _, item := range items {
		out = append(out, DonorHistoryView{
			ID:            item.RequestID,
			HospitalID:    item.HospitalID,
			HospitalName:  item.HospitalName,
			BloodType:     string(item.BloodType),
			Units:         item.Units,
			IsCritical:    item.IsCritical,
			Status:        string(item.Status),
			RequestStatus: string(item.RequestStatus),
			CreatedAt:     item.CreatedAt,
		})
	}
	return out
}

type HospitalView struct {
	UserID             string    `json:"userId"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber,omitempty"`
	Address            string    `json:"address,omitempty"`
	ContactPhone       string    `json:"contactPhone,omitempty"`
	ContactEmail       string    `json:"contactEmail,omitempty"`
	Latitude           *float64  `json:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func hospitalView(h store.Hospital) HospitalView {
	return HospitalView{
		UserID:             h.UserID,
		Name:               h.Name,
		RegistrationNumber: h.RegistrationNumber,
		Address:            h.Address,
		ContactPhone:       h.ContactPhone,
		ContactEmail:       h.ContactEmail,
		Latitude:           h.Latitude,
		Longitude:          h.Longitude,
		UpdatedAt:          h.UpdatedAt,
	}
}

type SessionView struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         UserView  `json:"user"`
}

func sessionView(s authpw.Session) SessionView {
	return SessionView{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.AccessExpiresAt,
		User:         userView(s.User),
	}
}
