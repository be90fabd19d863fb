package realtime

import (
	"time"

	"bloodlink/api/internal/store"
)

type EventName string

const (
	EventSOSAlert      EventName = "SOS_ALERT"
	EventSOSAccepted   EventName = "SOS_ACCEPTED"
	EventDonorRejected EventName = "DONOR_REJECTED"
	EventDonorApproved EventName = "DONOR_APPROVED"
)

// legacyAliases are the event names older clients still listen for.
var legacyAliases = map[EventName]EventName{
	EventSOSAlert:      "SOS_BROADCAST",
	EventSOSAccepted:   "donor_accepted",
	EventDonorRejected: "donor_rejected",
	EventDonorApproved: "donor_approved",
}

// Alias returns the legacy name for an event, if it has one.
func (n EventName) Alias() (EventName, bool) {
	alias, ok := legacyAliases[n]
	return alias, ok
}

type Event struct {
	Name    EventName
	Payload any
}

// Frame is the JSON envelope written to a websocket.
type Frame struct {
	Event EventName `json:"event"`
	Data  any       `json:"data"`
}

type SOSAlert struct {
	RequestID    string          `json:"requestId"`
	HospitalID   string          `json:"hospitalId"`
	HospitalName string          `json:"hospitalName,omitempty"`
	BloodType    store.BloodType `json:"bloodType"`
	Units        int             `json:"units"`
	IsCritical   bool            `json:"isCritical"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type SOSAccepted struct {
	RequestID string          `json:"requestId"`
	DonorID   string          `json:"donorId"`
	DonorName string          `json:"donorName"`
	BloodType store.BloodType `json:"bloodType"`
}

type DonorDecision struct {
	RequestID string `json:"requestId"`
}

func NewSOSAlert(req store.SOSRequest) Event {
	return Event{Name: EventSOSAlert, Payload: SOSAlert{
		RequestID:    req.ID,
		HospitalID:   req.HospitalID,
		HospitalName: req.HospitalName,
		BloodType:    req.BloodType,
		Units:        req.Units,
		IsCritical:   req.IsCritical,
		CreatedAt:    req.CreatedAt,
	}}
}

func NewSOSAccepted(requestID, donorID, donorName string, bt store.BloodType) Event {
	return Event{Name: EventSOSAccepted, Payload: SOSAccepted{
		RequestID: requestID,
		DonorID:   donorID,
		DonorName: donorName,
		BloodType: bt,
	}}
}

func NewDonorRejected(requestID string) Event {
	return Event{Name: EventDonorRejected, Payload: DonorDecision{RequestID: requestID}}
}

func NewDonorApproved(requestID string) Event {
	return Event{Name: EventDonorApproved, Payload: DonorDecision{RequestID: requestID}}
}
