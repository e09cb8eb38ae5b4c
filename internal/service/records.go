package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
	"coachpay/internal/repository"
)

type Records struct {
	store repository.RecordStore
	now   func() time.Time
}

func NewRecords(store repository.RecordStore) *Records {
	return &Records{store: store, now: time.Now}
}

func (s *Records) Get(ctx context.Context, userID string) (*model.UserRecord, error) {
	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "record not found", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load record", err)
	}
	return rec, nil
}

// RecordAccess appends to the access log. Repeated accesses are all kept.
func (s *Records) RecordAccess(ctx context.Context, cmd model.AccessCommand) error {
	if cmd.UserID == "" {
		return apperr.Auth("unauthenticated")
	}
	if strings.TrimSpace(cmd.ResourceID) == "" || strings.TrimSpace(cmd.ResourceType) == "" {
		return apperr.Validation("resourceId and resourceType are required")
	}
	entry := model.ResourceAccess{
		ResourceID:   cmd.ResourceID,
		ResourceType: cmd.ResourceType,
		AccessedAt:   s.now().UTC(),
	}
	if err := s.store.AppendAccess(ctx, cmd.UserID, entry); err != nil {
		slog.Error("failed to record access", "user_id", cmd.UserID, "resource_id", cmd.ResourceID, "error", err)
		return apperr.Wrap(apperr.KindInternal, "failed to record access", err)
	}
	return nil
}
