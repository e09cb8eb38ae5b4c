package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"coachpay/internal/model"
)

// pgxConn is the subset of *pgxpool.Pool the store uses.
type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgStore struct {
	db  pgxConn
	now func() time.Time
}

func NewPgStore(db pgxConn) *PgStore {
	return &PgStore{db: db, now: time.Now}
}

func (s *PgStore) Get(ctx context.Context, userID string) (*model.UserRecord, error) {
	return s.load(ctx, s.db, userID, false)
}

func (s *PgStore) Merge(ctx context.Context, userID string, patch model.RecordPatch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ensureUser(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.writePatch(ctx, tx, userID, patch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

func (s *PgStore) AppendAccess(ctx context.Context, userID string, entry model.ResourceAccess) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ensureUser(ctx, tx, userID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO resource_access_log (user_id, resource_id, resource_type, accessed_at)
		VALUES ($1, $2, $3, $4)`,
		userID, entry.ResourceID, entry.ResourceType, entry.AccessedAt)
	if err != nil {
		return fmt.Errorf("append access: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ApplyOnce inserts the ledger row first. A concurrent transaction holding the
// same key blocks on the primary key until it finishes, then sees the
// conflict, so the patch is computed at most once per key.
func (s *PgStore) ApplyOnce(ctx context.Context, ev model.ProcessedEvent, fn ApplyFunc) (*model.UserRecord, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = now
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (idempotency_key, source, user_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.IdempotencyKey, ev.Source, ev.UserID, ev.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("record idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyProcessed
	}

	if err := s.ensureUser(ctx, tx, ev.UserID); err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, tx, ev.UserID, true)
	if err != nil {
		return nil, err
	}
	patch, err := fn(rec)
	if err != nil {
		return nil, err
	}
	if err := s.writePatch(ctx, tx, ev.UserID, patch); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}

	ApplyPatch(rec, patch, now)
	return rec, nil
}

func (s *PgStore) EnqueueMail(ctx context.Context, msg model.MailMessage) error {
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO mail_outbox (id, to_addr, template, data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.To, msg.Template, data, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

func (s *PgStore) ensureUser(ctx context.Context, q querier, userID string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (user_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, s.now())
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (s *PgStore) load(ctx context.Context, q querier, userID string, forUpdate bool) (*model.UserRecord, error) {
	query := `SELECT is_member, plan, expiry, created_at, updated_at FROM users WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rec := emptyRecord(userID)
	err := q.QueryRow(ctx, query, userID).Scan(
		&rec.Membership.IsMember,
		&rec.Membership.Plan,
		&rec.Membership.Expiry,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query error: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT engagement_key, scheduled_date, event_ref, invitee_email, transaction_ref, metadata, updated_at
		FROM coaching_engagements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query engagements: %w", err)
	}
	for rows.Next() {
		var (
			key string
			e   model.Engagement
		)
		if err := rows.Scan(&key, &e.ScheduledDate, &e.EventRef, &e.InviteeEmail, &e.TransactionRef, &e.Metadata, &e.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		rec.CoachingEngagements[key] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read engagements: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT resource_id, resource_type, accessed_at
		FROM resource_access_log WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query access log: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.ResourceAccess
		if err := rows.Scan(&a.ResourceID, &a.ResourceType, &a.AccessedAt); err != nil {
			return nil, fmt.Errorf("scan access entry: %w", err)
		}
		rec.ResourceAccessLog = append(rec.ResourceAccessLog, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read access log: %w", err)
	}
	return rec, nil
}

func (s *PgStore) writePatch(ctx context.Context, q querier, userID string, patch model.RecordPatch) error {
	now := s.now()
	if m := patch.Membership; m != nil {
		_, err := q.Exec(ctx, `
			UPDATE users SET
				is_member = COALESCE($2, is_member),
				plan = COALESCE($3, plan),
				expiry = COALESCE($4, expiry),
				updated_at = $5
			WHERE user_id = $1`,
			userID, m.IsMember, m.Plan, m.Expiry, now)
		if err != nil {
			return fmt.Errorf("update membership: %w", err)
		}
	}

	for key, e := range patch.Engagements {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO coaching_engagements
				(user_id, engagement_key, scheduled_date, event_ref, invitee_email, transaction_ref, metadata, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, engagement_key) DO UPDATE SET
				scheduled_date = COALESCE(EXCLUDED.scheduled_date, coaching_engagements.scheduled_date),
				event_ref = COALESCE(NULLIF(EXCLUDED.event_ref, ''), coaching_engagements.event_ref),
				invitee_email = COALESCE(NULLIF(EXCLUDED.invitee_email, ''), coaching_engagements.invitee_email),
				transaction_ref = COALESCE(NULLIF(EXCLUDED.transaction_ref, ''), coaching_engagements.transaction_ref),
				metadata = coaching_engagements.metadata || EXCLUDED.metadata,
				updated_at = EXCLUDED.updated_at`,
			userID, key, e.ScheduledDate, e.EventRef, e.InviteeEmail, e.TransactionRef, meta, now)
		if err != nil {
			return fmt.Errorf("upsert engagement %q: %w", key, err)
		}
	}
	return nil
}
