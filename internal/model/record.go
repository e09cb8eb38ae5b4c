package model

import "time"

// UserRecord is the reconciliation document for a single user. It is the only
// durable state the payment and scheduling flows share.
type UserRecord struct {
	UserID              string                `json:"user_id" bson:"_id"`
	Membership          Membership            `json:"membership" bson:"membership"`
	CoachingEngagements map[string]Engagement `json:"coaching_engagements" bson:"coachingEngagements"`
	ResourceAccessLog   []ResourceAccess      `json:"resource_access_log" bson:"resourceAccessLog"`
	CreatedAt           time.Time             `json:"created_at" bson:"createdAt"`
	UpdatedAt           time.Time             `json:"updated_at" bson:"updatedAt"`
}

type Membership struct {
	IsMember bool       `json:"is_member" bson:"isMember"`
	Plan     string     `json:"plan" bson:"plan"`
	Expiry   *time.Time `json:"expiry,omitempty" bson:"expiry,omitempty"`
}

// Engagement is one coaching program instance, keyed by program id (or by
// transaction id when the booking carried no program id).
type Engagement struct {
	ScheduledDate  *time.Time        `json:"scheduled_date,omitempty" bson:"scheduledDate,omitempty"`
	EventRef       string            `json:"event_ref,omitempty" bson:"eventRef,omitempty"`
	InviteeEmail   string            `json:"invitee_email,omitempty" bson:"inviteeEmail,omitempty"`
	TransactionRef string            `json:"transaction_ref,omitempty" bson:"transactionRef,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at" bson:"updatedAt"`
}

type ResourceAccess struct {
	ResourceID   string    `json:"resource_id" bson:"resourceId"`
	ResourceType string    `json:"resource_type" bson:"resourceType"`
	AccessedAt   time.Time `json:"accessed_at" bson:"accessedAt"`
}

// RecordPatch is a field-level merge. Nil fields are left untouched by the store.
type RecordPatch struct {
	Membership  *MembershipPatch
	Engagements map[string]Engagement
}

type MembershipPatch struct {
	IsMember *bool
	Plan     *string
	Expiry   *time.Time
}

// ProcessedEvent is a row of the idempotency ledger.
type ProcessedEvent struct {
	IdempotencyKey string    `json:"idempotency_key" bson:"_id"`
	Source         string    `json:"source" bson:"source"`
	UserID         string    `json:"user_id" bson:"userId"`
	ProcessedAt    time.Time `json:"processed_at" bson:"processedAt"`
}

// MailMessage is an outbox entry picked up by the mail delivery side channel.
type MailMessage struct {
	ID        string            `json:"id" bson:"_id"`
	To        string            `json:"to" bson:"to"`
	Template  string            `json:"template" bson:"template"`
	Data      map[string]string `json:"data,omitempty" bson:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at" bson:"createdAt"`
}
