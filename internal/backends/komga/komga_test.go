package komga

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arnold/klibrarian-api/internal/config"
	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BackendConfig{Host: srv.URL + "/", Username: "admin", Password: "pw", Hostname: "https://comics.example.com"})
}

func TestCatalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/sharing-labels":
			w.Write([]byte(`["kids","mature"]`))
		case "/api/v1/libraries":
			w.Write([]byte(`[{"id":"L1","name":"Comics","unavailable":false},{"id":"L2","name":"Old","unavailable":true}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	cat, err := c.Catalog(context.Background())
	require.NoError(t, err)
	assert.True(t, cat.Active)
	assert.Equal(t, []string{"kids", "mature"}, cat.Labels)
	assert.Equal(t, []invite.Library{{ID: "L1", Name: "Comics"}, {ID: "L2", Name: "Old", Unavailable: true}}, cat.Libraries)
	assert.Equal(t, "https://comics.example.com", c.PublicURL())
}

func TestCreateAccountAndApplyGrant(t *testing.T) {
	var created UserCreate
	var patch map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/users":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.Write([]byte(`{"id":"U1","email":"a@b.c","roles":["USER"]}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v2/users/U1":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	g := invite.Grant{
		Kind:          invite.KindKomga,
		LibraryIDs:    []string{"L1"},
		LabelsExclude: invite.Some([]string{"mature"}),
		Roles:         invite.DefaultKomgaRoles,
	}
	id, err := c.CreateAccount(context.Background(), models.RedeemRequest{Email: "a@b.c", Password: "secret"}, g)
	require.NoError(t, err)
	assert.Equal(t, "U1", id)
	assert.Equal(t, invite.DefaultKomgaRoles, created.Roles)

	require.NoError(t, c.ApplyGrant(context.Background(), id, g))
	assert.Nil(t, patch["labelsAllow"])
	assert.Equal(t, []interface{}{"mature"}, patch["labelsExclude"])
	assert.Equal(t, map[string]interface{}{"all": false, "libraryIds": []interface{}{"L1"}}, patch["sharedLibraries"])
}

func TestErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/users":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"violations":[{"fieldName":"email","message":"must be a well-formed email address"}]}`))
		case "/api/v2/users/me":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"timestamp":"now","status":409,"error":"Conflict","message":"already exists","path":"/api/v2/users"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	_, err := c.CreateUser(context.Background(), UserCreate{Email: "bad"})
	var violations *ViolationsError
	require.ErrorAs(t, err, &violations)
	assert.Contains(t, err.Error(), "email: must be a well-formed email address")

	_, err = c.Me(context.Background())
	var common *CommonError
	require.ErrorAs(t, err, &common)
	assert.Equal(t, "already exists", common.Message)

	_, err = c.Libraries(context.Background())
	assert.Error(t, err)
}

func TestUserIsAdmin(t *testing.T) {
	assert.True(t, User{Roles: []string{"USER", "ADMIN"}}.IsAdmin())
	assert.False(t, User{Roles: []string{"USER"}}.IsAdmin())
}
