package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"coachpay/internal/apperr"
	"coachpay/internal/auth"
	"coachpay/internal/model"
	"coachpay/internal/scheduling"
	"coachpay/internal/service"
)

const maxBodyBytes = 1 << 20

// Identity attaches the caller's session to the request context.
type Identity interface {
	Middleware(next http.Handler) http.Handler
}

type Services struct {
	Orders     service.OrderService
	Payments   service.PaymentService
	Scheduling service.SchedulingService
	CRM        service.CRMService
	Records    service.RecordService
}

type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /orders/{provider}", h.CreateOrder)
	mux.HandleFunc("GET /payments/stripe/success", h.StripeSuccess)
	mux.HandleFunc("POST /payments/razorpay/confirm", h.RazorpayConfirm)
	mux.HandleFunc("POST /webhooks/stripe", h.StripeWebhook)
	mux.HandleFunc("POST /webhooks/razorpay", h.RazorpayWebhook)
	mux.HandleFunc("POST /webhooks/calendly", h.CalendlyWebhook)
	mux.HandleFunc("POST /crm/schedule", h.ScheduleCRM)
	mux.HandleFunc("POST /access", h.RecordAccess)
	mux.HandleFunc("GET /me/record", h.GetRecord)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	// A signed-in caller can only order for themselves.
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		if req.UserID == "" {
			req.UserID = s.UserID
		} else if req.UserID != s.UserID {
			h.respondAppError(w, apperr.Auth("user mismatch"))
			return
		}
		if req.CustomerEmail == "" {
			req.CustomerEmail = s.Email
		}
	}

	order, err := h.svc.Orders.CreateOrder(r.Context(), r.PathValue("provider"), req)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

func (h *Handler) StripeSuccess(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.respondConfirmError(w, apperr.Auth("unauthenticated"))
		return
	}
	res, err := h.svc.Payments.ConfirmStripeCheckout(r.Context(), user, r.URL.Query().Get("session_id"))
	if err != nil {
		h.respondConfirmError(w, err)
		return
	}
	h.respondConfirmation(w, res)
}

func (h *Handler) RazorpayConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.respondConfirmError(w, apperr.Auth("unauthenticated"))
		return
	}
	var cb service.RazorpayCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		h.respondConfirmError(w, apperr.Validation("invalid_json"))
		return
	}
	res, err := h.svc.Payments.ConfirmRazorpayPayment(r.Context(), user, cb)
	if err != nil {
		h.respondConfirmError(w, err)
		return
	}
	h.respondConfirmation(w, res)
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Payments.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	h.respondWebhook(w, model.ProviderStripe, statusOf(res), err)
}

func (h *Handler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Payments.HandleRazorpayWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature"))
	h.respondWebhook(w, model.ProviderRazorpay, statusOf(res), err)
}

func (h *Handler) CalendlyWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	status, err := h.svc.Scheduling.HandleWebhook(r.Context(), r.Header.Get(scheduling.SignatureHeader), body)
	h.respondWebhook(w, model.SourceCalendly, status, err)
}

func (h *Handler) ScheduleCRM(w http.ResponseWriter, r *http.Request) {
	var req model.CRMScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := h.svc.CRM.Schedule(r.Context(), req)
	if err != nil {
		msg, _, _ := apperr.Public(err)
		details := ""
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Err != nil {
			details = ae.Err.Error()
		}
		// Local validation is a 400; every CRM failure is a 500.
		status := http.StatusInternalServerError
		if apperr.Is(err, apperr.KindValidation) {
			status = http.StatusBadRequest
		}
		h.respondJSON(w, status, map[string]any{
			"error":     msg,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"details":   details,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) RecordAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.respondAppError(w, apperr.Auth("unauthenticated"))
		return
	}
	var req struct {
		ResourceID   string `json:"resourceId"`
		ResourceType string `json:"resourceType"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	err := h.svc.Records.RecordAccess(r.Context(), model.AccessCommand{
		UserID:       user,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
	})
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		h.respondAppError(w, apperr.Auth("unauthenticated"))
		return
	}
	rec, err := h.svc.Records.Get(r.Context(), user)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

func currentUser(r *http.Request) (string, bool) {
	s, ok := auth.SessionFromContext(r.Context())
	return s.UserID, ok
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_body")
		return nil, false
	}
	return body, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func statusOf(res *model.ConfirmationResult) string {
	if res == nil {
		return ""
	}
	return res.Status
}

func (h *Handler) respondWebhook(w http.ResponseWriter, source, status string, err error) {
	if err != nil {
		slog.Warn("webhook not applied", "source", source, "error", err)
		h.respondAppError(w, err)
		return
	}
	slog.Debug("webhook handled", "source", source, "status", status)
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) respondConfirmation(w http.ResponseWriter, res *model.ConfirmationResult) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"status":     res.Status,
		"membership": res.Membership,
	})
}

func (h *Handler) respondConfirmError(w http.ResponseWriter, err error) {
	msg, _, _ := apperr.Public(err)
	h.respondJSON(w, apperr.HTTPStatus(err), map[string]any{"success": false, "error": msg})
}

func (h *Handler) respondAppError(w http.ResponseWriter, err error) {
	msg, typ, code := apperr.Public(err)
	body := map[string]string{"error": msg}
	if typ != "" {
		body["type"] = typ
	}
	if code != "" {
		body["code"] = code
	}
	h.respondJSON(w, apperr.HTTPStatus(err), body)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
