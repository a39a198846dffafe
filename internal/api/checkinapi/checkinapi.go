package checkinapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/besties-app/safecheck/internal/apperr"
	"github.com/besties-app/safecheck/internal/models"
	"github.com/besties-app/safecheck/internal/services/broadcast"
	"github.com/besties-app/safecheck/internal/services/idempotency"
	"github.com/besties-app/safecheck/internal/services/ratelimit"
)

const userIDHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

type CheckInService interface {
	Create(ctx context.Context, in models.CheckInCreateInput) (*models.CheckIn, error)
	Get(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error)
	Complete(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error)
	Extend(ctx context.Context, id uint64, callerID string, minutes int) (*models.CheckIn, error)
	Acknowledge(ctx context.Context, id uint64, contactID string) (*models.CheckIn, error)
	SendInvite(ctx context.Context, ownerID, inviteeID string) error
}

type SOSEngine interface {
	Trigger(ctx context.Context, ownerID, location, message string) (*broadcast.Result, error)
}

type Guard interface {
	Process(ctx context.Context, eventID string, payload []byte, fn func(ctx context.Context) error) (idempotency.ProcessResult, error)
}

type Limiter interface {
	Enforce(ctx context.Context, action, subject string) error
}

// PaymentApplier применяет событие платёжного провайдера к профилю
// пользователя (активация/отключение SMS-аддона).
type PaymentApplier interface {
	SetSMSAddon(ctx context.Context, userID string, active bool) error
}

type CheckInAPI struct {
	svc      CheckInService
	sos      SOSEngine
	guard    Guard
	limiter  Limiter
	payments PaymentApplier
}

func New(svc CheckInService, sos SOSEngine, guard Guard, limiter Limiter, payments PaymentApplier) *CheckInAPI {
	return &CheckInAPI{svc: svc, sos: sos, guard: guard, limiter: limiter, payments: payments}
}

func (a *CheckInAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/checkins", a.createCheckIn)
		r.Get("/checkins/{id}", a.getCheckIn)
		r.Post("/checkins/{id}/complete", a.completeCheckIn)
		r.Post("/checkins/{id}/extend", a.extendCheckIn)
		r.Post("/checkins/{id}/ack", a.ackCheckIn)
		r.Post("/sos", a.triggerSOS)
		r.Post("/invites", a.sendInvite)
		r.Post("/webhooks/payment", a.paymentWebhook)
	})
}

type checkinResponse struct {
	ID                     uint64     `json:"id"`
	OwnerID                string     `json:"ownerId"`
	Location               string     `json:"location,omitempty"`
	DurationMinutes        int        `json:"durationMinutes"`
	AlertTime              time.Time  `json:"alertTime"`
	ContactIDs             []string   `json:"contactIds"`
	Status                 string     `json:"status"`
	AcknowledgedBy         []string   `json:"acknowledgedBy,omitempty"`
	CurrentNotifiedContact *string    `json:"currentNotifiedContact,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	AlertedAt              *time.Time `json:"alertedAt,omitempty"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
}

func toResponse(c *models.CheckIn) checkinResponse {
	return checkinResponse{
		ID:                     c.ID,
		OwnerID:                c.OwnerID,
		Location:               c.Location,
		DurationMinutes:        c.DurationMinutes,
		AlertTime:              c.AlertTime,
		ContactIDs:             c.ContactIDs,
		Status:                 c.Status,
		AcknowledgedBy:         c.AcknowledgedBy,
		CurrentNotifiedContact: c.CurrentNotifiedContact,
		CreatedAt:              c.CreatedAt,
		AlertedAt:              c.AlertedAt,
		CompletedAt:            c.CompletedAt,
	}
}

type createCheckInRequest struct {
	Location        string   `json:"location"`
	DurationMinutes int      `json:"durationMinutes"`
	ContactIDs      []string `json:"contactIds"`
}

func (a *CheckInAPI) createCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createCheckInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := a.svc.Create(r.Context(), models.CheckInCreateInput{
		OwnerID:         callerID,
		Location:        req.Location,
		DurationMinutes: req.DurationMinutes,
		ContactIDs:      req.ContactIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(c))
}

func (a *CheckInAPI) getCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Get(r.Context(), id, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

func (a *CheckInAPI) completeCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Complete(r.Context(), id, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (a *CheckInAPI) extendCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := a.svc.Extend(r.Context(), id, callerID, req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

func (a *CheckInAPI) ackCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.svc.Acknowledge(r.Context(), id, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

type sosRequest struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

type sosResponse struct {
	IncidentID     string `json:"incidentId"`
	ContactCount   int    `json:"contactCount"`
	Notified       int    `json:"notified"`
	SubscriberHits int    `json:"subscriberHits"`
}

func (a *CheckInAPI) triggerSOS(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sosRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := a.sos.Trigger(r.Context(), callerID, req.Location, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sosResponse{
		IncidentID:     res.Incident.ID,
		ContactCount:   res.Incident.ContactCount,
		Notified:       res.Notified,
		SubscriberHits: res.SubscriberHits,
	})
}

type inviteRequest struct {
	InviteeID string `json:"inviteeId"`
}

func (a *CheckInAPI) sendInvite(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.SendInvite(r.Context(), callerID, req.InviteeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type paymentWebhookRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
	Addon   string `json:"addon"`
	Active  bool   `json:"active"`
}

// paymentWebhook принимает событие платёжного провайдера. Аутентификации
// пользователя здесь нет, поэтому запросы считаются анонимными и
// ограничиваются по IP; сам провайдер ретраит доставку, дубли гасит guard.
func (a *CheckInAPI) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if err := a.limiter.Enforce(r.Context(), ratelimit.ActionAnonymous, clientIP(r)); err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperr.Validation("read body: %v", err))
		return
	}
	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperr.Validation("invalid json: %v", err))
		return
	}
	if req.EventID == "" || req.UserID == "" {
		writeError(w, apperr.Validation("eventId and userId are required"))
		return
	}

	res, err := a.guard.Process(r.Context(), req.EventID, body, func(ctx context.Context) error {
		if req.Addon != "sms" {
			slog.Warn("unknown payment addon, ignored", "addon", req.Addon, "event_id", req.EventID)
			return nil
		}
		return a.payments.SetSMSAddon(ctx, req.UserID, req.Active)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := "processed"
	if res.AlreadyProcessed {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "X-User-ID header is required"})
		return "", false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid checkin id"))
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, apperr.Validation("invalid json: %v", err))
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	// За балансером реальный адрес в X-Forwarded-For, первым в списке.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error string `json:"error"`

	Limit   int64      `json:"limit,omitempty"`
	Count   int64      `json:"count,omitempty"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	if e, ok := apperr.AsError(err); ok {
		body := errorBody{Error: e.Msg}
		status := http.StatusInternalServerError
		switch e.Kind {
		case apperr.KindValidation:
			status = http.StatusBadRequest
		case apperr.KindPermission:
			status = http.StatusForbidden
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindStateConflict:
			status = http.StatusConflict
		case apperr.KindRateLimited:
			status = http.StatusTooManyRequests
			body.Limit = e.Limit
			body.Count = e.Count
			reset := e.ResetAt
			body.ResetAt = &reset
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(e.ResetAt).Seconds())+1, 10))
		}
		writeJSON(w, status, body)
		return
	}
	slog.Error("internal error", "error", err.Error())
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}
