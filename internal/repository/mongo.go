package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coachpay/internal/model"
)

const (
	usersCollection     = "users"
	processedCollection = "processed_events"
	mailCollection      = "mail"
)

// MongoStore keeps one document per user, mirroring the record layout the
// web client reads: membership, coachingEngagements and resourceAccessLog.
type MongoStore struct {
	db        *mongo.Database
	users     *mongo.Collection
	processed *mongo.Collection
	mail      *mongo.Collection
	now       func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:        db,
		users:     db.Collection(usersCollection),
		processed: db.Collection(processedCollection),
		mail:      db.Collection(mailCollection),
		now:       time.Now,
	}
}

// userDoc decodes membership.expiry lazily: older documents stored it as a
// string, newer ones as a BSON date.
type userDoc struct {
	ID         string `bson:"_id"`
	Membership struct {
		IsMember bool          `bson:"isMember"`
		Plan     string        `bson:"plan"`
		Expiry   bson.RawValue `bson:"expiry,omitempty"`
	} `bson:"membership"`
	CoachingEngagements map[string]model.Engagement `bson:"coachingEngagements"`
	ResourceAccessLog   []model.ResourceAccess      `bson:"resourceAccessLog"`
	CreatedAt           time.Time                   `bson:"createdAt"`
	UpdatedAt           time.Time                   `bson:"updatedAt"`
}

func (d *userDoc) record() *model.UserRecord {
	rec := emptyRecord(d.ID)
	rec.Membership.IsMember = d.Membership.IsMember
	rec.Membership.Plan = d.Membership.Plan
	rec.Membership.Expiry = expiryFromRaw(d.Membership.Expiry)
	for k, e := range d.CoachingEngagements {
		rec.CoachingEngagements[k] = e
	}
	rec.ResourceAccessLog = d.ResourceAccessLog
	rec.CreatedAt = d.CreatedAt
	rec.UpdatedAt = d.UpdatedAt
	return rec
}

// expiryFromRaw converts whatever was stored into a time. Unknown or
// malformed values yield nil so callers fall back to "now".
func expiryFromRaw(v bson.RawValue) *time.Time {
	var t time.Time
	switch v.Type {
	case bsontype.DateTime:
		t = v.Time()
	case bsontype.Timestamp:
		sec, _ := v.Timestamp()
		t = time.Unix(int64(sec), 0)
	case bsontype.String:
		parsed, err := time.Parse(time.RFC3339, v.StringValue())
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*model.UserRecord, error) {
	return s.get(ctx, userID)
}

func (s *MongoStore) get(ctx context.Context, userID string) (*model.UserRecord, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.record(), nil
}

func (s *MongoStore) Merge(ctx context.Context, userID string, patch model.RecordPatch) error {
	return s.merge(ctx, userID, patch)
}

func (s *MongoStore) merge(ctx context.Context, userID string, patch model.RecordPatch) error {
	set, err := mergeFields(patch, s.now())
	if err != nil {
		return err
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": s.now()},
	}
	_, err = s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("merge user: %w", err)
	}
	return nil
}

// mergeFields flattens a patch into dotted $set paths so untouched fields of
// the document survive.
func mergeFields(patch model.RecordPatch, now time.Time) (bson.M, error) {
	set := bson.M{"updatedAt": now}
	if m := patch.Membership; m != nil {
		if m.IsMember != nil {
			set["membership.isMember"] = *m.IsMember
		}
		if m.Plan != nil {
			set["membership.plan"] = *m.Plan
		}
		if m.Expiry != nil {
			set["membership.expiry"] = m.Expiry.UTC()
		}
	}
	for key, e := range patch.Engagements {
		if !validFieldKey(key) {
			return nil, fmt.Errorf("invalid engagement key %q", key)
		}
		base := "coachingEngagements." + key + "."
		if e.ScheduledDate != nil {
			set[base+"scheduledDate"] = e.ScheduledDate.UTC()
		}
		if e.EventRef != "" {
			set[base+"eventRef"] = e.EventRef
		}
		if e.InviteeEmail != "" {
			set[base+"inviteeEmail"] = e.InviteeEmail
		}
		if e.TransactionRef != "" {
			set[base+"transactionRef"] = e.TransactionRef
		}
		for mk, mv := range e.Metadata {
			if !validFieldKey(mk) {
				return nil, fmt.Errorf("invalid metadata key %q", mk)
			}
			set[base+"metadata."+mk] = mv
		}
		set[base+"updatedAt"] = now
	}
	return set, nil
}

func validFieldKey(k string) bool {
	return k != "" && !strings.Contains(k, ".") && !strings.HasPrefix(k, "$")
}

func (s *MongoStore) AppendAccess(ctx context.Context, userID string, entry model.ResourceAccess) error {
	update := bson.M{
		"$push":        bson.M{"resourceAccessLog": entry},
		"$set":         bson.M{"updatedAt": s.now()},
		"$setOnInsert": bson.M{"createdAt": s.now()},
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append access: %w", err)
	}
	return nil
}

// ApplyOnce needs a replica set: the ledger insert and the record update
// commit in one multi-document transaction.
func (s *MongoStore) ApplyOnce(ctx context.Context, ev model.ProcessedEvent, fn ApplyFunc) (*model.UserRecord, error) {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	now := s.now()
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = now
	}

	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.processed.InsertOne(sc, ev); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrAlreadyProcessed
			}
			return nil, fmt.Errorf("record idempotency key: %w", err)
		}

		rec, err := s.get(sc, ev.UserID)
		if errors.Is(err, ErrNotFound) {
			rec, err = emptyRecord(ev.UserID), nil
		}
		if err != nil {
			return nil, err
		}
		patch, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if err := s.merge(sc, ev.UserID, patch); err != nil {
			return nil, err
		}
		ApplyPatch(rec, patch, now)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*model.UserRecord), nil
}

func (s *MongoStore) EnqueueMail(ctx context.Context, msg model.MailMessage) error {
	if _, err := s.mail.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}
