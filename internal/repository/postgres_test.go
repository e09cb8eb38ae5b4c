package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachpay/internal/model"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func TestPgStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM users WHERE user_id").
		WithArgs("u1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_ApplyOnceDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("stripe:cs_1", "stripe", "u1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	called := false
	_, err := store.ApplyOnce(context.Background(),
		model.ProcessedEvent{IdempotencyKey: "stripe:cs_1", Source: "stripe", UserID: "u1"},
		func(*model.UserRecord) (model.RecordPatch, error) {
			called = true
			return model.RecordPatch{}, nil
		})

	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_ApplyOnceFirstDelivery(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("razorpay:order_1", "razorpay", "u1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM users WHERE user_id = .+ FOR UPDATE").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"is_member", "plan", "expiry", "created_at", "updated_at"}).
			AddRow(false, "", (*time.Time)(nil), now, now))
	mock.ExpectQuery("FROM coaching_engagements").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"engagement_key", "scheduled_date", "event_ref", "invitee_email", "transaction_ref", "metadata", "updated_at"}))
	mock.ExpectQuery("FROM resource_access_log").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"resource_id", "resource_type", "accessed_at"}))
	mock.ExpectExec("UPDATE users SET").
		WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	expiry := now.AddDate(0, 1, 0)
	rec, err := store.ApplyOnce(context.Background(),
		model.ProcessedEvent{IdempotencyKey: "razorpay:order_1", Source: "razorpay", UserID: "u1"},
		func(cur *model.UserRecord) (model.RecordPatch, error) {
			assert.False(t, cur.Membership.IsMember)
			yes, plan := true, "p1"
			return model.RecordPatch{Membership: &model.MembershipPatch{IsMember: &yes, Plan: &plan, Expiry: &expiry}}, nil
		})

	require.NoError(t, err)
	assert.True(t, rec.Membership.IsMember)
	assert.Equal(t, "p1", rec.Membership.Plan)
	assert.Equal(t, expiry, *rec.Membership.Expiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_AppendAccess(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("INSERT INTO resource_access_log").
		WithArgs("u1", "r1", "video", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.AppendAccess(context.Background(), "u1", model.ResourceAccess{ResourceID: "r1", ResourceType: "video", AccessedAt: at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
