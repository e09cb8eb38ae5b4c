package repository

import (
	"context"
	"errors"
	"maps"
	"time"

	"coachpay/internal/model"
)

var (
	ErrNotFound         = errors.New("user record not found")
	ErrAlreadyProcessed = errors.New("event already processed (idempotency)")
	ErrInFlight         = errors.New("event is being processed by another delivery")
)

// ApplyFunc computes a patch from the current (locked) record. It receives an
// empty record carrying only the user id when none exists yet. Returning an
// error aborts the application and leaves no ledger row behind.
type ApplyFunc func(current *model.UserRecord) (model.RecordPatch, error)

// RecordStore is the reconciliation store. Merge and AppendAccess are safe to
// repeat; ApplyOnce is the only path that performs read-modify-write and it
// records the idempotency key in the same atomic unit as the write.
type RecordStore interface {
	Get(ctx context.Context, userID string) (*model.UserRecord, error)
	Merge(ctx context.Context, userID string, patch model.RecordPatch) error
	AppendAccess(ctx context.Context, userID string, entry model.ResourceAccess) error
	ApplyOnce(ctx context.Context, ev model.ProcessedEvent, fn ApplyFunc) (*model.UserRecord, error)
	EnqueueMail(ctx context.Context, msg model.MailMessage) error
}

func emptyRecord(userID string) *model.UserRecord {
	return &model.UserRecord{
		UserID:              userID,
		CoachingEngagements: map[string]model.Engagement{},
	}
}

// ApplyPatch merges patch into rec field by field, the same way every store
// backend does on disk.
func ApplyPatch(rec *model.UserRecord, patch model.RecordPatch, now time.Time) {
	if m := patch.Membership; m != nil {
		if m.IsMember != nil {
			rec.Membership.IsMember = *m.IsMember
		}
		if m.Plan != nil {
			rec.Membership.Plan = *m.Plan
		}
		if m.Expiry != nil {
			exp := *m.Expiry
			rec.Membership.Expiry = &exp
		}
	}
	if len(patch.Engagements) > 0 && rec.CoachingEngagements == nil {
		rec.CoachingEngagements = map[string]model.Engagement{}
	}
	for key, in := range patch.Engagements {
		cur := rec.CoachingEngagements[key]
		if in.ScheduledDate != nil {
			d := *in.ScheduledDate
			cur.ScheduledDate = &d
		}
		if in.EventRef != "" {
			cur.EventRef = in.EventRef
		}
		if in.InviteeEmail != "" {
			cur.InviteeEmail = in.InviteeEmail
		}
		if in.TransactionRef != "" {
			cur.TransactionRef = in.TransactionRef
		}
		if len(in.Metadata) > 0 {
			if cur.Metadata == nil {
				cur.Metadata = map[string]string{}
			}
			maps.Copy(cur.Metadata, in.Metadata)
		}
		cur.UpdatedAt = now
		rec.CoachingEngagements[key] = cur
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}
