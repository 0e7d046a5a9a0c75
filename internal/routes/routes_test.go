package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arnold/klibrarian-api/internal/handlers"
	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/middleware"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/arnold/klibrarian-api/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "let-me-in"

type fakeInvites struct {
	invites  map[uuid.UUID]invite.Invite
	cfg      invite.Config
	redeemed []models.RedeemRequest
	err      error
}

func (f *fakeInvites) ActiveKinds() []invite.Kind {
	return []invite.Kind{invite.KindKomga, invite.KindNavidrome}
}

func (f *fakeInvites) Config(context.Context) (invite.Config, error) { return f.cfg, f.err }

func (f *fakeInvites) Create(_ context.Context, p invite.Payload) (invite.Invite, error) {
	if f.err != nil {
		return invite.Invite{}, f.err
	}
	opt, err := invite.Authorize(p, f.cfg, time.Now())
	if err != nil {
		return invite.Invite{}, err
	}
	inv := invite.New(p.Kind(), opt, time.Now())
	f.invites[inv.Token] = inv
	return inv, nil
}

func (f *fakeInvites) List(context.Context) ([]models.InviteStatus, error) {
	out := []models.InviteStatus{}
	for _, inv := range f.invites {
		out = append(out, models.InviteStatus{Invite: inv, Status: "pending"})
	}
	return out, f.err
}

func (f *fakeInvites) Lookup(_ context.Context, token uuid.UUID) (invite.Invite, error) {
	inv, ok := f.invites[token]
	switch {
	case !ok:
		return invite.Invite{}, invite.ErrTokenNotFound
	case inv.Consumed():
		return inv, invite.ErrAlreadyConsumed
	case inv.ExpiredAt(time.Now()):
		return inv, invite.ErrExpired
	}
	return inv, nil
}

func (f *fakeInvites) Delete(_ context.Context, token uuid.UUID) error {
	if _, ok := f.invites[token]; !ok {
		return invite.ErrTokenNotFound
	}
	delete(f.invites, token)
	return nil
}

func (f *fakeInvites) Redeem(ctx context.Context, token uuid.UUID, req models.RedeemRequest) (models.RedeemResponse, error) {
	if f.err != nil {
		return models.RedeemResponse{}, f.err
	}
	inv, err := f.Lookup(ctx, token)
	if err != nil {
		return models.RedeemResponse{}, err
	}
	grant, err := invite.Validate(inv, f.cfg, time.Now())
	if err != nil {
		return models.RedeemResponse{}, err
	}
	inv.UserID = invite.Some("user-1")
	f.invites[token] = inv
	f.redeemed = append(f.redeemed, req)
	return models.RedeemResponse{Host: "https://books.example.com", Grant: grant}, nil
}

func (f *fakeInvites) Reapply(_ context.Context, token uuid.UUID) (invite.Grant, error) {
	inv, ok := f.invites[token]
	if !ok {
		return invite.Grant{}, invite.ErrTokenNotFound
	}
	if !inv.Consumed() {
		return invite.Grant{}, services.ErrNotRedeemed
	}
	return invite.Resolve(inv, f.cfg), nil
}

type fakeActivity struct {
	token *uuid.UUID
	limit int
}

func (f *fakeActivity) List(_ context.Context, token *uuid.UUID, _, limit int) ([]models.Activity, int64, error) {
	f.token, f.limit = token, limit
	return []models.Activity{{ActionType: models.ActionInviteCreated}}, 1, nil
}

type testApp struct {
	app      *fiber.App
	invites  *fakeInvites
	activity *fakeActivity
	auth     *middleware.Auth
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{
		invites: &fakeInvites{
			invites: map[uuid.UUID]invite.Invite{},
			cfg: invite.Config{
				Komga: invite.BackendCatalog{
					Active:    true,
					Libraries: []invite.Library{{ID: "L1", Name: "Comics"}, {ID: "L2", Name: "Gone", Unavailable: true}},
					Labels:    []string{"kids"},
				},
				Navidrome: invite.BackendCatalog{
					Active:    true,
					Libraries: []invite.Library{{ID: "3", Name: "Music"}},
					Labels:    []string{},
				},
			},
		},
		activity: &fakeActivity{},
		auth:     middleware.NewAuth(adminToken, "test-secret"),
	}
	ta.app = fiber.New()
	h := handlers.New(ta.invites, ta.activity, ta.auth, "test")
	Setup(ta.app, h, handlers.NewHub(), ta.auth)
	return ta
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

func (ta *testApp) do(t *testing.T, method, path, body string, admin bool) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		token, err := ta.auth.GenerateToken()
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	ta := newTestApp(t)
	status, env := ta.do(t, http.MethodGet, "/_/health", "", false)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.OK)
}

func TestLogin(t *testing.T) {
	ta := newTestApp(t)

	status, env := ta.do(t, http.MethodPost, "/api/auth/login", `{"token":"nope"}`, false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", env.Code)

	status, env = ta.do(t, http.MethodPost, "/api/auth/login", `{"token":"`+adminToken+`"}`, false)
	require.Equal(t, http.StatusOK, status)
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	_, err := ta.auth.Parse(resp.Token)
	assert.NoError(t, err)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ta := newTestApp(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/invite"},
		{http.MethodPost, "/api/invite"},
		{http.MethodGet, "/api/invite/config"},
		{http.MethodDelete, "/api/invite/" + uuid.NewString()},
		{http.MethodPost, "/api/invite/" + uuid.NewString() + "/reapply"},
		{http.MethodGet, "/api/activity"},
	} {
		status, _ := ta.do(t, tc.method, tc.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", tc.method, tc.path)
	}
}

func TestCreateInvite(t *testing.T) {
	ta := newTestApp(t)

	status, env := ta.do(t, http.MethodPost, "/api/invite", `{"mode":"komga","libraries":["L1"],"labels":["kids"],"excludeLabels":[],"roles":[],"expiresAt":null}`, true)
	require.Equal(t, http.StatusCreated, status, env.Error)
	var inv invite.Invite
	require.NoError(t, json.Unmarshal(env.Data, &inv))
	assert.Equal(t, invite.KindKomga, inv.Kind)
	assert.Contains(t, ta.invites.invites, inv.Token)

	for _, tc := range []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"mode":`, http.StatusBadRequest, "bad_request"},
		{"unknown mode", `{"mode":"plex"}`, http.StatusUnprocessableEntity, "invalid_payload_for_kind"},
		{"unknown library", `{"mode":"komga","libraries":["L9"]}`, http.StatusUnprocessableEntity, "unknown_library"},
		{"unavailable library", `{"mode":"komga","libraries":["L2"]}`, http.StatusUnprocessableEntity, "unknown_library"},
		{"unknown label", `{"mode":"komga","labels":["adults"]}`, http.StatusUnprocessableEntity, "unknown_label"},
		{"labels on navidrome", `{"mode":"navidrome","labels":["kids"]}`, http.StatusUnprocessableEntity, "invalid_payload_for_kind"},
		{"past expiry", `{"mode":"navidrome","expiresAt":1}`, http.StatusUnprocessableEntity, "invalid_expiry"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, env := ta.do(t, http.MethodPost, "/api/invite", tc.body, true)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, env.Code)
			assert.False(t, env.OK)
		})
	}
}

func TestCreateInviteBackendDown(t *testing.T) {
	ta := newTestApp(t)
	ta.invites.err = fmt.Errorf("%w: connection refused", services.ErrCatalogUnavailable)
	status, env := ta.do(t, http.MethodPost, "/api/invite", `{"mode":"komga"}`, true)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "catalog_unavailable", env.Code)
}

func TestGetConfig(t *testing.T) {
	ta := newTestApp(t)
	status, env := ta.do(t, http.MethodGet, "/api/invite/config", "", true)
	require.Equal(t, http.StatusOK, status)

	var cfg struct {
		Komga struct {
			Libraries []map[string]interface{} `json:"libraries"`
		} `json:"komga"`
		Navidrome struct {
			Active    bool                     `json:"active"`
			Libraries []map[string]interface{} `json:"libraries"`
		} `json:"navidrome"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, "L1", cfg.Komga.Libraries[0]["id"])
	assert.Equal(t, true, cfg.Komga.Libraries[1]["unavailable"])
	assert.True(t, cfg.Navidrome.Active)
	assert.Equal(t, float64(3), cfg.Navidrome.Libraries[0]["id"])
}

func TestInfo(t *testing.T) {
	ta := newTestApp(t)
	status, env := ta.do(t, http.MethodGet, "/api/invite/info", "", false)
	require.Equal(t, http.StatusOK, status)
	var info models.InfoResponse
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, []string{"komga", "navidrome"}, info.Servers)
	assert.Equal(t, "test", info.Version)
}

func TestInviteLifecycle(t *testing.T) {
	ta := newTestApp(t)
	inv, err := ta.invites.Create(context.Background(), invite.NavidromePayload{Libraries: []int64{3}})
	require.NoError(t, err)
	path := "/api/invite/" + inv.Token.String()

	status, _ := ta.do(t, http.MethodGet, path, "", false)
	assert.Equal(t, http.StatusOK, status)

	status, env := ta.do(t, http.MethodPost, path+"/apply", `{"email":"not-an-email","password":"secret1","username":"bob"}`, false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error, "email")

	status, env = ta.do(t, http.MethodPost, path+"/apply", `{"email":"bob@example.com","password":"secret1","username":"bob smith"}`, false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error, "username")

	status, env = ta.do(t, http.MethodPost, path+"/apply", `{"email":"bob@example.com","password":"secret1","username":"bob"}`, false)
	require.Equal(t, http.StatusOK, status, env.Error)
	var resp models.RedeemResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "https://books.example.com", resp.Host)
	assert.Equal(t, []string{"3"}, resp.Grant.LibraryIDs)

	status, env = ta.do(t, http.MethodGet, path, "", false)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_consumed", env.Code)
	assert.NotEmpty(t, env.Data)

	status, env = ta.do(t, http.MethodPost, path+"/apply", `{"email":"eve@example.com","password":"secret1","username":"eve"}`, false)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_consumed", env.Code)
	assert.Len(t, ta.invites.redeemed, 1)
}

func TestExpiredInvite(t *testing.T) {
	ta := newTestApp(t)
	inv := invite.New(invite.KindKomga, invite.Option{
		ExpiresAt: invite.Some(invite.At(time.Now().Add(-time.Hour))),
	}, time.Now().Add(-2*time.Hour))
	ta.invites.invites[inv.Token] = inv

	status, env := ta.do(t, http.MethodGet, "/api/invite/"+inv.Token.String(), "", false)
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "expired", env.Code)
}

func TestUnknownAndMalformedTokens(t *testing.T) {
	ta := newTestApp(t)
	for _, path := range []string{"/api/invite/" + uuid.NewString(), "/api/invite/not-a-token"} {
		status, env := ta.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "token_not_found", env.Code)
	}
}

func TestDeleteInvite(t *testing.T) {
	ta := newTestApp(t)
	inv, err := ta.invites.Create(context.Background(), invite.KomgaPayload{})
	require.NoError(t, err)
	path := "/api/invite/" + inv.Token.String()

	status, _ := ta.do(t, http.MethodDelete, path, "", true)
	assert.Equal(t, http.StatusNoContent, status)

	status, env := ta.do(t, http.MethodDelete, path, "", true)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "token_not_found", env.Code)
}

func TestRedeemBackendFailure(t *testing.T) {
	ta := newTestApp(t)
	inv, err := ta.invites.Create(context.Background(), invite.KomgaPayload{})
	require.NoError(t, err)
	ta.invites.err = fmt.Errorf("%w: email already taken", services.ErrBackend)

	status, env := ta.do(t, http.MethodPost, "/api/invite/"+inv.Token.String()+"/apply",
		`{"email":"bob@example.com","password":"secret1","username":"bob"}`, false)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "backend_error", env.Code)
}

func TestGetActivity(t *testing.T) {
	ta := newTestApp(t)
	token := uuid.New()

	status, env := ta.do(t, http.MethodGet, "/api/activity?token="+token.String()+"&limit=500", "", true)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, ta.activity.token)
	assert.Equal(t, token, *ta.activity.token)
	assert.Equal(t, 20, ta.activity.limit)

	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 1, page.Total)

	status, _ = ta.do(t, http.MethodGet, "/api/activity?token=nope", "", true)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestApplyRateLimited(t *testing.T) {
	ta := newTestApp(t)
	path := "/api/invite/" + uuid.NewString() + "/apply"
	body := `{"email":"bob@example.com","password":"secret1","username":"bob"}`

	for range applyRateLimit {
		status, _ := ta.do(t, http.MethodPost, path, body, false)
		assert.Equal(t, http.StatusNotFound, status)
	}
	status, env := ta.do(t, http.MethodPost, path, body, false)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", env.Code)
}

func TestReapplyInvite(t *testing.T) {
	ta := newTestApp(t)
	inv, err := ta.invites.Create(context.Background(), invite.KomgaPayload{Libraries: []string{"L1"}})
	require.NoError(t, err)
	path := "/api/invite/" + inv.Token.String() + "/reapply"

	status, env := ta.do(t, http.MethodPost, path, "", true)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_redeemed", env.Code)

	_, err = ta.invites.Redeem(context.Background(), inv.Token, models.RedeemRequest{Email: "bob@example.com"})
	require.NoError(t, err)

	status, env = ta.do(t, http.MethodPost, path, "", true)
	require.Equal(t, http.StatusOK, status, env.Error)
	var grant invite.Grant
	require.NoError(t, json.Unmarshal(env.Data, &grant))
	assert.Equal(t, []string{"L1"}, grant.LibraryIDs)

	status, env = ta.do(t, http.MethodPost, "/api/invite/"+uuid.NewString()+"/reapply", "", true)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "token_not_found", env.Code)
}
