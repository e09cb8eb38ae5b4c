package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"coachpay/internal/apperr"
	"coachpay/internal/crm"
	"coachpay/internal/model"
)

const (
	defaultScheduleHours = 24
	maxScheduleHours     = 720

	TagOnboardingScheduled = "onboarding-scheduled"
	TagMember              = "member"
)

type CRM struct {
	client crmClient
	now    func() time.Time
}

func NewCRM(client crmClient) *CRM {
	return &CRM{client: client, now: time.Now}
}

// Schedule queues onboarding by stamping the audience member with the time
// the welcome sequence should start and tagging it.
func (s *CRM) Schedule(ctx context.Context, req model.CRMScheduleRequest) (*model.CRMScheduleResult, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, apperr.Validation("userId and email are required")
	}
	hours := req.ScheduleHours
	if hours == 0 {
		hours = defaultScheduleHours
	}
	if hours < 0 || hours > maxScheduleHours {
		return nil, apperr.Validation("scheduleHours must be between 1 and 720")
	}
	at := s.now().UTC().Add(time.Duration(hours) * time.Hour)

	result, err := s.client.UpsertMember(ctx, crm.Member{
		Email: req.Email,
		MergeFields: map[string]string{
			"FNAME":     req.FirstName,
			"LNAME":     req.LastName,
			"USERID":    req.UserID,
			"WELCOMEAT": at.Format(time.RFC3339),
		},
	})
	if err != nil {
		slog.Error("crm upsert failed", "user_id", req.UserID, "error", err)
		return nil, err
	}
	if err := s.client.AddTags(ctx, req.Email, TagOnboardingScheduled); err != nil {
		slog.Error("crm tag failed", "user_id", req.UserID, "error", err)
		return nil, err
	}

	slog.Info("crm onboarding scheduled", "user_id", req.UserID, "scheduled_time", at)
	return &model.CRMScheduleResult{Success: true, ScheduledTime: at, Result: result}, nil
}

func (s *CRM) TagMember(ctx context.Context, email string, tags ...string) error {
	if email == "" {
		return apperr.Validation("email is required")
	}
	return s.client.AddTags(ctx, email, tags...)
}
