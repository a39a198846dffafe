package checkinapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/apperr"
	"github.com/besties-app/safecheck/internal/models"
	"github.com/besties-app/safecheck/internal/services/broadcast"
	"github.com/besties-app/safecheck/internal/services/idempotency"
)

type fakeService struct {
	checkin *models.CheckIn
	err     error

	invited []string
}

func (f *fakeService) Create(ctx context.Context, in models.CheckInCreateInput) (*models.CheckIn, error) {
	return f.checkin, f.err
}
func (f *fakeService) Get(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error) {
	return f.checkin, f.err
}
func (f *fakeService) Complete(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error) {
	return f.checkin, f.err
}
func (f *fakeService) Extend(ctx context.Context, id uint64, callerID string, minutes int) (*models.CheckIn, error) {
	return f.checkin, f.err
}
func (f *fakeService) Acknowledge(ctx context.Context, id uint64, contactID string) (*models.CheckIn, error) {
	return f.checkin, f.err
}
func (f *fakeService) SendInvite(ctx context.Context, ownerID, inviteeID string) error {
	f.invited = append(f.invited, inviteeID)
	return f.err
}

type fakeSOS struct {
	res *broadcast.Result
	err error
}

func (f *fakeSOS) Trigger(ctx context.Context, ownerID, location, message string) (*broadcast.Result, error) {
	return f.res, f.err
}

type fakeGuard struct {
	already bool
	calls   int
}

func (f *fakeGuard) Process(ctx context.Context, eventID string, payload []byte, fn func(ctx context.Context) error) (idempotency.ProcessResult, error) {
	if f.already {
		return idempotency.ProcessResult{AlreadyProcessed: true}, nil
	}
	f.calls++
	return idempotency.ProcessResult{}, fn(ctx)
}

type fakeLimiter struct {
	err      error
	subjects []string
}

func (f *fakeLimiter) Enforce(ctx context.Context, action, subject string) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

type fakePayments struct {
	userID string
	active bool
	calls  int
}

func (f *fakePayments) SetSMSAddon(ctx context.Context, userID string, active bool) error {
	f.calls++
	f.userID = userID
	f.active = active
	return nil
}

func testRouter(api *CheckInAPI) http.Handler {
	r := chi.NewRouter()
	api.Routes(r)
	return r
}

func doReq(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sampleCheckIn() *models.CheckIn {
	return &models.CheckIn{
		ID:         7,
		OwnerID:    "o1",
		Status:     models.CheckInStatusActive,
		ContactIDs: []string{"c1"},
		AlertTime:  time.Now().UTC().Add(time.Hour),
	}
}

func TestAPI_CreateCheckIn(t *testing.T) {
	svc := &fakeService{checkin: sampleCheckIn()}
	h := testRouter(New(svc, &fakeSOS{}, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/checkins", "o1", createCheckInRequest{
		Location: "park", DurationMinutes: 60, ContactIDs: []string{"c1"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp checkinResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, uint64(7), resp.ID)
	require.Equal(t, "ACTIVE", resp.Status)
}

func TestAPI_RequiresUserHeader(t *testing.T) {
	h := testRouter(New(&fakeService{}, &fakeSOS{}, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/checkins", "", createCheckInRequest{})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperr.Validation("bad"), http.StatusBadRequest},
		{"permission", apperr.Permission("no"), http.StatusForbidden},
		{"not found", apperr.NotFound("missing"), http.StatusNotFound},
		{"conflict", apperr.StateConflict("done"), http.StatusConflict},
		{"rate limited", apperr.RateLimited(3, 3, time.Now().Add(time.Hour)), http.StatusTooManyRequests},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{err: tc.err}
			h := testRouter(New(svc, &fakeSOS{}, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))
			w := doReq(t, h, http.MethodPost, "/v1/checkins/7/extend", "o1", extendRequest{Minutes: 30})
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestAPI_RateLimitedPayload(t *testing.T) {
	reset := time.Now().UTC().Add(30 * time.Minute)
	svc := &fakeService{err: apperr.RateLimited(10, 10, reset)}
	h := testRouter(New(svc, &fakeSOS{}, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/checkins/7/extend", "o1", extendRequest{Minutes: 30})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, int64(10), body.Limit)
	require.Equal(t, int64(10), body.Count)
	require.NotNil(t, body.ResetAt)
}

func TestAPI_SOS(t *testing.T) {
	sos := &fakeSOS{res: &broadcast.Result{
		Incident: &models.Incident{ID: "inc-1", ContactCount: 2},
		Notified: 2,
	}}
	h := testRouter(New(&fakeService{}, sos, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/sos", "o1", sosRequest{Location: "park", Message: "help"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp sosResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "inc-1", resp.IncidentID)
	require.Equal(t, 2, resp.Notified)
}

func TestAPI_Invite(t *testing.T) {
	svc := &fakeService{}
	h := testRouter(New(svc, &fakeSOS{}, &fakeGuard{}, &fakeLimiter{}, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/invites", "o1", inviteRequest{InviteeID: "friend"})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{"friend"}, svc.invited)
}

func TestAPI_PaymentWebhook(t *testing.T) {
	guard := &fakeGuard{}
	lim := &fakeLimiter{}
	pay := &fakePayments{}
	h := testRouter(New(&fakeService{}, &fakeSOS{}, guard, lim, pay))

	w := doReq(t, h, http.MethodPost, "/v1/webhooks/payment", "", paymentWebhookRequest{
		EventID: "ev-1", UserID: "u1", Addon: "sms", Active: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, pay.calls)
	require.Equal(t, "u1", pay.userID)
	require.True(t, pay.active)
	// Вебхук без пользователя идёт через анонимный лимит по IP.
	require.Len(t, lim.subjects, 1)
}

func TestAPI_PaymentWebhook_Duplicate(t *testing.T) {
	guard := &fakeGuard{already: true}
	pay := &fakePayments{}
	h := testRouter(New(&fakeService{}, &fakeSOS{}, guard, &fakeLimiter{}, pay))

	w := doReq(t, h, http.MethodPost, "/v1/webhooks/payment", "", paymentWebhookRequest{
		EventID: "ev-1", UserID: "u1", Addon: "sms",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, pay.calls)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "duplicate", resp["status"])
}

func TestAPI_PaymentWebhook_RateLimited(t *testing.T) {
	lim := &fakeLimiter{err: apperr.RateLimited(60, 61, time.Now().Add(time.Minute))}
	h := testRouter(New(&fakeService{}, &fakeSOS{}, &fakeGuard{}, lim, &fakePayments{}))

	w := doReq(t, h, http.MethodPost, "/v1/webhooks/payment", "", paymentWebhookRequest{
		EventID: "ev-1", UserID: "u1",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, "10.0.0.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientIP(r))
}
