package scheduling

import (
	"encoding/json"
	"fmt"

	"coachpay/internal/model"
)

const EventInviteeCreated = "invitee.created"

type Webhook struct {
	Event     string  `json:"event"`
	CreatedAt string  `json:"created_at"`
	Payload   Invitee `json:"payload"`
}

type Invitee struct {
	URI                 string           `json:"uri"`
	Email               string           `json:"email"`
	Name                string           `json:"name"`
	Event               string           `json:"event"`
	CancelURL           string           `json:"cancel_url"`
	RescheduleURL       string           `json:"reschedule_url"`
	ScheduledEvent      ScheduledEvent   `json:"scheduled_event"`
	QuestionsAndAnswers []QuestionAnswer `json:"questions_and_answers"`
	Tracking            Tracking         `json:"tracking"`
}

type ScheduledEvent struct {
	URI       string `json:"uri"`
	Name      string `json:"name"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Tracking struct {
	UTMSource   string `json:"utm_source"`
	UTMCampaign string `json:"utm_campaign"`
	UTMContent  string `json:"utm_content"`
}

func Parse(body []byte) (*Webhook, error) {
	var wh Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return &wh, nil
}

// SchedulingEvent correlates an invitee.created payload. The booking link's
// utm_content carries the user id when no question does.
func (wh *Webhook) SchedulingEvent() (*model.SchedulingEvent, error) {
	p := wh.Payload
	c, err := Correlate(p.QuestionsAndAnswers, p.Tracking.UTMContent)
	if err != nil {
		return nil, err
	}

	eventRef := p.ScheduledEvent.URI
	if eventRef == "" {
		eventRef = p.Event
	}
	return &model.SchedulingEvent{
		InviteeURI:    p.URI,
		EventRef:      eventRef,
		InviteeEmail:  p.Email,
		InviteeName:   p.Name,
		EventName:     p.ScheduledEvent.Name,
		StartTime:     p.ScheduledEvent.StartTime,
		EndTime:       p.ScheduledEvent.EndTime,
		CancelURL:     p.CancelURL,
		RescheduleURL: p.RescheduleURL,
		UserID:        c.UserID,
		TransactionID: c.TransactionID,
		ProgramID:     c.ProgramID,
	}, nil
}
