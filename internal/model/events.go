package model

import "time"

const (
	TopicMembershipActivated = "membership.activated"
	TopicMembershipRenewed   = "membership.renewed"
	TopicEngagementScheduled = "engagement.scheduled"
	TopicAccessRecord        = "commands.access.record"
)

type MembershipEvent struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	Plan           string    `json:"plan"`
	Expiry         time.Time `json:"expiry"`
	Provider       string    `json:"provider"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

type EngagementEvent struct {
	UserID        string    `json:"user_id"`
	EngagementKey string    `json:"engagement_key"`
	ScheduledDate time.Time `json:"scheduled_date"`
	InviteeEmail  string    `json:"invitee_email"`
	CreatedAt     time.Time `json:"created_at"`
}

type AccessCommand struct {
	UserID       string `json:"user_id"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

// SchedulingEvent is a verified, correlated "invitee created" booking.
type SchedulingEvent struct {
	InviteeURI    string
	EventRef      string
	InviteeEmail  string
	InviteeName   string
	EventName     string
	StartTime     string
	EndTime       string
	CancelURL     string
	RescheduleURL string
	UserID        string
	TransactionID string
	ProgramID     string
}

// CRMScheduleRequest asks the CRM to queue onboarding for a user.
type CRMScheduleRequest struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	ScheduleHours int    `json:"scheduleHours,omitempty"`
}

type CRMScheduleResult struct {
	Success       bool           `json:"success"`
	ScheduledTime time.Time      `json:"scheduledTime"`
	Result        map[string]any `json:"result"`
}
