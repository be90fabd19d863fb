package email

import (
	"context"
	"sync"

	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
	"github.com/sirupsen/logrus"
)

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// DecisionNotifier emails donors when a hospital approves or rejects them.
// Delivery runs in the background and failures are only logged.
type DecisionNotifier struct {
	mail    *Service
	users   UserLookup
	appName string
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

func NewDecisionNotifier(mail *Service, users UserLookup, logger logrus.FieldLogger) *DecisionNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &DecisionNotifier{
		mail:    mail,
		users:   users,
		appName: "BloodLink",
		logger:  logger.WithField("component", "email"),
	}
}

func (n *DecisionNotifier) DonorDecided(ctx context.Context, decision sos.Decision) {
	if n.mail == nil || !n.mail.IsConfigured() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.deliver(ctx, decision); err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				"request_id": decision.RequestID,
				"donor_id":   decision.DonorID,
			}).Warn("decision email failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *DecisionNotifier) Wait() {
	n.wg.Wait()
}

func (n *DecisionNotifier) deliver(ctx context.Context, decision sos.Decision) error {
	donor, err := n.users.GetUserByID(ctx, decision.DonorID)
	if err != nil {
		return err
	}
	if donor.Email == "" {
		return nil
	}
	hospitalName := "The hospital"
	if hospital, err := n.users.GetUserByID(ctx, decision.HospitalID); err == nil && hospital.Name != "" {
		hospitalName = hospital.Name
	}
	data := DecisionData{
		AppName:      n.appName,
		DonorName:    donor.Name,
		HospitalName: hospitalName,
		BloodType:    string(decision.BloodType),
		RequestID:    decision.RequestID,
		Approved:     decision.Approved,
	}
	html, err := renderDecision(data)
	if err != nil {
		return err
	}
	return n.mail.SendHTMLEmail([]string{donor.Email}, decisionSubject(data), decisionText(data), html)
}
