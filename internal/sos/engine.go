// Package sos implements the SOS request lifecycle: who may move a request
// between states, the atomic store mutation behind each move, and the
// notifications each move produces.
package sos

import (
	"context"
	"errors"
	"time"

	"bloodlink/api/internal/events"
	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/rbac"
	"bloodlink/api/internal/realtime"
	"bloodlink/api/internal/store"
	"bloodlink/api/internal/util"
	"github.com/sirupsen/logrus"
)

// StaleAfter is how long a request may stay open before cleanup expires it.
const StaleAfter = 24 * time.Hour

// Store holds SOS requests. Every mutating method is atomic for one request,
// and ExpireStale is one conditional bulk update.
type Store interface {
	CreateRequest(ctx context.Context, req store.SOSRequest) (store.SOSRequest, error)
	GetRequest(ctx context.Context, id string) (store.SOSRequest, error)
	AppendDonor(ctx context.Context, requestID, donorID string) (store.SOSRequest, error)
	ApproveDonor(ctx context.Context, requestID, donorID string) (store.SOSRequest, error)
	RejectDonor(ctx context.Context, requestID, donorID string) (bool, error)
	CancelRequest(ctx context.Context, requestID string) (store.SOSRequest, error)
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
	ListRequestsByHospital(ctx context.Context, hospitalID string) ([]store.SOSRequest, error)
	ListRequestsByDonor(ctx context.Context, donorID string) ([]store.SOSRequest, error)
	ListOpenRequestsByBloodType(ctx context.Context, bt store.BloodType) ([]store.SOSRequest, error)
	ListAllRequests(ctx context.Context) ([]store.SOSRequest, error)
}

type Dispatcher interface {
	Dispatch(topic realtime.Topic, event realtime.Event) (int, error)
}

// Directory supplies read-side user attributes.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	BloodType(ctx context.Context, userID string) (store.BloodType, error)
}

// Decision is handed to a Notifier after a hospital decides on a donor.
type Decision struct {
	RequestID  string
	DonorID    string
	HospitalID string
	BloodType  store.BloodType
	Approved   bool
}

// Notifier delivers out-of-band decision notices. It must not block.
type Notifier interface {
	DonorDecided(ctx context.Context, decision Decision)
}

type Options struct {
	Dispatcher Dispatcher
	Directory  Directory
	Publisher  events.Publisher
	Notifier   Notifier
	Clock      func() time.Time
	Logger     logrus.FieldLogger
}

type Engine struct {
	store      Store
	dispatcher Dispatcher
	directory  Directory
	publisher  events.Publisher
	notifier   Notifier
	now        func() time.Time
	logger     logrus.FieldLogger
}

func NewEngine(s Store, opts Options) *Engine {
	e := &Engine{
		store:      s,
		dispatcher: opts.Dispatcher,
		directory:  opts.Directory,
		publisher:  opts.Publisher,
		notifier:   opts.Notifier,
		now:        opts.Clock,
		logger:     opts.Logger,
	}
	if e.publisher == nil {
		e.publisher = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	e.logger = e.logger.WithField("component", "sos")
	return e
}

type CreateInput struct {
	BloodType  store.BloodType
	Units      int
	IsCritical bool
}

// DonorHistoryItem is one request seen from a single donor's side: Status is
// that donor's own entry status, not the request's.
type DonorHistoryItem struct {
	RequestID     string
	HospitalID    string
	HospitalName  string
	BloodType     store.BloodType
	Units         int
	IsCritical    bool
	Status        store.DonorStatus
	RequestStatus store.RequestStatus
	CreatedAt     time.Time
}

func authorize(caller identity.Caller, action rbac.Action) error {
	if caller.ID == "" {
		return errUnauthenticated()
	}
	if !caller.Can(action) {
		return errForbidden("Forbidden")
	}
	return nil
}

// Create opens a new request owned by the calling hospital and alerts
// connected donors of the same blood type.
func (e *Engine) Create(ctx context.Context, caller identity.Caller, in CreateInput) (store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionCreateSOS); err != nil {
		return store.SOSRequest{}, err
	}
	if !in.BloodType.Valid() {
		return store.SOSRequest{}, errInvalid("bloodType must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
	}
	if in.Units <= 0 {
		return store.SOSRequest{}, errInvalid("units must be a positive integer")
	}

	req, err := e.store.CreateRequest(ctx, store.SOSRequest{
		ID:         util.NewID("sos"),
		HospitalID: caller.ID,
		BloodType:  in.BloodType,
		Units:      in.Units,
		IsCritical: in.IsCritical,
	})
	if err != nil {
		return store.SOSRequest{}, errInternal("create SOS", err)
	}

	e.logger.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"hospital_id": req.HospitalID,
		"blood_type":  string(req.BloodType),
		"units":       req.Units,
		"critical":    req.IsCritical,
	}).Info("sos created")

	e.dispatch(realtime.DonorsByBloodType(req.BloodType), realtime.NewSOSAlert(req))
	e.audit(ctx, events.Record{Type: events.SOSCreated, RequestID: req.ID, HospitalID: req.HospitalID, BloodType: string(req.BloodType), ActorID: caller.ID})
	return req, nil
}

// Accept records the calling donor's response to an open request and tells
// the owning hospital who responded.
func (e *Engine) Accept(ctx context.Context, caller identity.Caller, requestID string) error {
	if err := authorize(caller, rbac.ActionAcceptSOS); err != nil {
		return err
	}
	req, err := e.store.AppendDonor(ctx, requestID, caller.ID)
	if err != nil {
		return translate("accept SOS", err)
	}

	donorName := e.displayName(ctx, caller.ID)
	e.logger.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"hospital_id": req.HospitalID,
		"donor_id":    caller.ID,
	}).Info("sos accepted")

	e.dispatch(realtime.Hospital(req.HospitalID), realtime.NewSOSAccepted(req.ID, caller.ID, donorName, req.BloodType))
	e.audit(ctx, events.Record{Type: events.SOSAccepted, RequestID: req.ID, HospitalID: req.HospitalID, DonorID: caller.ID, BloodType: string(req.BloodType), ActorID: caller.ID})
	return nil
}

// Approve marks one donor approved and completes the request in the same
// mutation. Other pending donors stay pending.
func (e *Engine) Approve(ctx context.Context, caller identity.Caller, requestID, donorID string) (store.SOSRequest, error) {
	if _, err := e.ownedRequest(ctx, caller, requestID, "approve donor"); err != nil {
		return store.SOSRequest{}, err
	}
	req, err := e.store.ApproveDonor(ctx, requestID, donorID)
	if err != nil {
		return store.SOSRequest{}, translate("approve donor", err)
	}

	e.logger.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"hospital_id": req.HospitalID,
		"donor_id":    donorID,
	}).Info("donor approved, sos completed")

	e.dispatch(realtime.Donor(donorID), realtime.NewDonorApproved(req.ID))
	e.audit(ctx, events.Record{Type: events.SOSApproved, RequestID: req.ID, HospitalID: req.HospitalID, DonorID: donorID, BloodType: string(req.BloodType), ActorID: caller.ID})
	e.notify(ctx, Decision{RequestID: req.ID, DonorID: donorID, HospitalID: req.HospitalID, BloodType: req.BloodType, Approved: true})
	return req, nil
}

// Reject flips the donor's pending entry to rejected. A donor with no pending
// entry is a silent no-op and produces no notification.
func (e *Engine) Reject(ctx context.Context, caller identity.Caller, requestID, donorID string) error {
	req, err := e.ownedRequest(ctx, caller, requestID, "reject donor")
	if err != nil {
		return err
	}
	changed, err := e.store.RejectDonor(ctx, requestID, donorID)
	if err != nil {
		return translate("reject donor", err)
	}
	if !changed {
		e.logger.WithFields(logrus.Fields{"request_id": requestID, "donor_id": donorID}).Debug("reject matched no pending entry")
		return nil
	}

	e.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"hospital_id": req.HospitalID,
		"donor_id":    donorID,
	}).Info("donor rejected")

	e.dispatch(realtime.Donor(donorID), realtime.NewDonorRejected(requestID))
	e.audit(ctx, events.Record{Type: events.SOSRejected, RequestID: requestID, HospitalID: req.HospitalID, DonorID: donorID, BloodType: string(req.BloodType), ActorID: caller.ID})
	e.notify(ctx, Decision{RequestID: requestID, DonorID: donorID, HospitalID: req.HospitalID, BloodType: req.BloodType, Approved: false})
	return nil
}

// Cancel is the administrative path to cancelled. Only open requests can be cancelled.
func (e *Engine) Cancel(ctx context.Context, caller identity.Caller, requestID string) (store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionCancel); err != nil {
		return store.SOSRequest{}, err
	}
	req, err := e.store.CancelRequest(ctx, requestID)
	if err != nil {
		return store.SOSRequest{}, translate("cancel SOS", err)
	}
	e.logger.WithFields(logrus.Fields{"request_id": req.ID, "actor_id": caller.ID}).Info("sos cancelled")
	e.audit(ctx, events.Record{Type: events.SOSCancelled, RequestID: req.ID, HospitalID: req.HospitalID, BloodType: string(req.BloodType), ActorID: caller.ID})
	return req, nil
}

// Cleanup expires every open request created more than StaleAfter ago and
// returns how many it expired.
func (e *Engine) Cleanup(ctx context.Context, caller identity.Caller) (int, error) {
	if err := authorize(caller, rbac.ActionCleanup); err != nil {
		return 0, err
	}
	cutoff := e.now().UTC().Add(-StaleAfter)
	count, err := e.store.ExpireStale(ctx, cutoff)
	if err != nil {
		return 0, errInternal("cleanup", err)
	}
	if count > 0 {
		e.logger.WithFields(logrus.Fields{"expired": count, "cutoff": cutoff, "actor_id": caller.ID}).Info("stale sos requests expired")
		e.audit(ctx, events.Record{Type: events.SOSExpired, Count: count, ActorID: caller.ID})
	}
	return count, nil
}

// ListForHospital returns the caller's own requests, newest first.
func (e *Engine) ListForHospital(ctx context.Context, caller identity.Caller) ([]store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionListOwned); err != nil {
		return nil, err
	}
	requests, err := e.store.ListRequestsByHospital(ctx, caller.ID)
	if err != nil {
		return nil, errInternal("list hospital requests", err)
	}
	return requests, nil
}

// ListForDonor returns the requests the caller has responded to, newest
// first, each carrying the caller's own entry status.
func (e *Engine) ListForDonor(ctx context.Context, caller identity.Caller) ([]DonorHistoryItem, error) {
	if err := authorize(caller, rbac.ActionDonorHistory); err != nil {
		return nil, err
	}
	requests, err := e.store.ListRequestsByDonor(ctx, caller.ID)
	if err != nil {
		return nil, errInternal("list donor history", err)
	}

	items := make([]DonorHistoryItem, 0, len(requests))
	for _, req := range requests {
		status := store.DonorPending
		if entry, ok := req.Entry(caller.ID); ok {
			status = entry.Status
		} else {
			e.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"donor_id":   caller.ID,
			}).Warn("integrity: donor history row has no matching donor entry, defaulting to pending")
		}
		items = append(items, DonorHistoryItem{
			RequestID:     req.ID,
			HospitalID:    req.HospitalID,
			HospitalName:  req.HospitalName,
			BloodType:     req.BloodType,
			Units:         req.Units,
			IsCritical:    req.IsCritical,
			Status:        status,
			RequestStatus: req.Status,
			CreatedAt:     req.CreatedAt,
		})
	}
	return items, nil
}

// OpenFeed lists the open requests matching the calling donor's blood type.
func (e *Engine) OpenFeed(ctx context.Context, caller identity.Caller) ([]store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionDonorFeed); err != nil {
		return nil, err
	}
	if e.directory == nil {
		return nil, errInternal("load donor feed", errors.New("no directory configured"))
	}
	bt, err := e.directory.BloodType(ctx, caller.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, errInternal("load donor feed", err)
	}
	if !bt.Valid() {
		return nil, errInvalid("Donor profile incomplete")
	}
	requests, err := e.store.ListOpenRequestsByBloodType(ctx, bt)
	if err != nil {
		return nil, errInternal("load donor feed", err)
	}
	return requests, nil
}

// ListAll returns every request for the admin console, newest first.
func (e *Engine) ListAll(ctx context.Context, caller identity.Caller) ([]store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	requests, err := e.store.ListAllRequests(ctx)
	if err != nil {
		return nil, errInternal("list requests", err)
	}
	return requests, nil
}

// ownedRequest loads a request and checks that caller is its hospital.
// Existence is checked before ownership.
func (e *Engine) ownedRequest(ctx context.Context, caller identity.Caller, requestID, op string) (store.SOSRequest, error) {
	if err := authorize(caller, rbac.ActionDecideDonor); err != nil {
		return store.SOSRequest{}, err
	}
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.SOSRequest{}, translate(op, err)
	}
	if req.HospitalID != caller.ID {
		return store.SOSRequest{}, errForbidden("Only the requesting hospital can decide on donors")
	}
	return req, nil
}

func (e *Engine) displayName(ctx context.Context, userID string) string {
	if e.directory == nil {
		return ""
	}
	name, err := e.directory.DisplayName(ctx, userID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("display name lookup failed")
		return ""
	}
	return name
}

// dispatch is best-effort: the mutation has already committed.
func (e *Engine) dispatch(topic realtime.Topic, event realtime.Event) {
	if e.dispatcher == nil {
		return
	}
	if _, err := e.dispatcher.Dispatch(topic, event); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"topic": topic.String(),
			"event": string(event.Name),
		}).Warn("realtime dispatch failed")
	}
}

func (e *Engine) audit(ctx context.Context, record events.Record) {
	if record.OccurredAt.IsZero() {
		record.OccurredAt = e.now().UTC()
	}
	if err := e.publisher.Publish(ctx, record); err != nil {
		e.logger.WithError(err).WithField("type", string(record.Type)).Warn("audit publish failed")
	}
}

func (e *Engine) notify(ctx context.Context, decision Decision) {
	if e.notifier == nil {
		return
	}
	e.notifier.DonorDecided(ctx, decision)
}

// translate maps store sentinels onto engine errors.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errRequestNotFound()
	case errors.Is(err, store.ErrEntryNotFound):
		return errEntryNotFound()
	case errors.Is(err, store.ErrRequestClosed):
		return errClosed()
	case errors.Is(err, store.ErrAlreadyAccepted):
		return errAlreadyAccepted()
	default:
		return errInternal(op, err)
	}
}
