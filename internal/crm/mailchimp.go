// Package crm talks to the Mailchimp Marketing API.
package crm

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coachpay/internal/apperr"
)

const maxResponseBytes = 1 << 20

type Config struct {
	APIKey     string
	Server     string
	AudienceID string
	// BaseURL overrides https://<server>.api.mailchimp.com/3.0.
	BaseURL string
}

type Member struct {
	Email       string
	MergeFields map[string]string
}

type Mailchimp struct {
	cfg  Config
	http *http.Client
}

func NewMailchimp(cfg Config, hc *http.Client) *Mailchimp {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	// API keys end in "-<dc>", which doubles as the server prefix.
	if cfg.Server == "" {
		if i := strings.LastIndex(cfg.APIKey, "-"); i >= 0 {
			cfg.Server = cfg.APIKey[i+1:]
		}
	}
	return &Mailchimp{cfg: cfg, http: hc}
}

// SubscriberHash is Mailchimp's member id: md5 of the lower-cased address.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// UpsertMember creates the audience member or updates its merge fields.
func (m *Mailchimp) UpsertMember(ctx context.Context, mem Member) (map[string]any, error) {
	if err := m.configured(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"email_address": mem.Email,
		"status_if_new": "subscribed",
		"merge_fields":  mem.MergeFields,
	}
	var out map[string]any
	if err := m.do(ctx, http.MethodPut, m.memberPath(mem.Email), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddTags activates tags on an existing member.
func (m *Mailchimp) AddTags(ctx context.Context, email string, tags ...string) error {
	if err := m.configured(); err != nil {
		return err
	}
	list := make([]map[string]string, 0, len(tags))
	for _, t := range tags {
		list = append(list, map[string]string{"name": t, "status": "active"})
	}
	return m.do(ctx, http.MethodPost, m.memberPath(email)+"/tags", map[string]any{"tags": list}, nil)
}

func (m *Mailchimp) configured() error {
	switch {
	case m.cfg.APIKey == "":
		return &apperr.Error{Kind: apperr.KindConfig, Message: "configuration missing", Code: "mailchimp_api_key"}
	case m.cfg.AudienceID == "":
		return &apperr.Error{Kind: apperr.KindConfig, Message: "configuration missing", Code: "mailchimp_audience_id"}
	case m.cfg.Server == "" && m.cfg.BaseURL == "":
		return &apperr.Error{Kind: apperr.KindConfig, Message: "configuration missing", Code: "mailchimp_server_prefix"}
	}
	return nil
}

func (m *Mailchimp) memberPath(email string) string {
	return fmt.Sprintf("/lists/%s/members/%s", m.cfg.AudienceID, SubscriberHash(email))
}

func (m *Mailchimp) baseURL() string {
	if m.cfg.BaseURL != "" {
		return strings.TrimRight(m.cfg.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.api.mailchimp.com/3.0", m.cfg.Server)
}

type apiError struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (m *Mailchimp) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal mailchimp request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mailchimp request: %w", err)
	}
	req.SetBasicAuth("coachpay", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", fmt.Errorf("mailchimp status %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		return &apperr.Error{
			Kind:    apperr.KindUpstream,
			Message: "invalid request",
			Type:    ae.Title,
			Code:    fmt.Sprint(resp.StatusCode),
			Err:     fmt.Errorf("mailchimp: %s", ae.Detail),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode mailchimp response: %w", err)
		}
	}
	return nil
}
