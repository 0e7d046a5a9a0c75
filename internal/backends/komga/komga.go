// Package komga is a minimal client for the Komga administration API.
package komga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arnold/klibrarian-api/internal/config"
	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/samber/lo"
)

const userAgent = "K-Librarian (+https://github.com/noaione/klibrarian)"

type User struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	Roles              []string `json:"roles"`
	SharedAllLibraries bool     `json:"sharedAllLibraries"`
	SharedLibrariesIDs []string `json:"sharedLibrariesIds"`
	LabelsAllow        []string `json:"labelsAllow"`
	LabelsExclude      []string `json:"labelsExclude"`
}

func (u User) IsAdmin() bool {
	return lo.Contains(u.Roles, "ADMIN")
}

type UserCreate struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type SharedLibraries struct {
	All        bool     `json:"all"`
	LibraryIDs []string `json:"libraryIds"`
}

// UserUpdate restricts what a user can see. Absent label lists leave the
// user's current setting unchanged.
type UserUpdate struct {
	LabelsAllow     invite.Optional[[]string] `json:"labelsAllow"`
	LabelsExclude   invite.Optional[[]string] `json:"labelsExclude"`
	SharedLibraries SharedLibraries           `json:"sharedLibraries"`
}

type Library struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Unavailable bool   `json:"unavailable"`
}

// CommonError is Komga's generic error body.
type CommonError struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Err       string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

func (e *CommonError) Error() string {
	return fmt.Sprintf("komga: %s: %s", e.Err, e.Message)
}

type Violation struct {
	FieldName string `json:"fieldName"`
	Message   string `json:"message"`
}

// ViolationsError is returned when Komga rejects a request body.
type ViolationsError struct {
	Violations []Violation `json:"violations"`
}

func (e *ViolationsError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.FieldName+": "+v.Message)
	}
	return "komga: " + strings.Join(parts, "; ")
}

type Client struct {
	baseURL   string
	publicURL string
	username  string
	password  string
	http      *http.Client
}

func New(cfg config.BackendConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Host, "/"),
		publicURL: cfg.PublicHost(),
		username:  cfg.Username,
		password:  cfg.Password,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Kind() invite.Kind { return invite.KindKomga }

func (c *Client) Host() string { return c.baseURL }

func (c *Client) PublicURL() string { return c.publicURL }

func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/v2/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) CreateUser(ctx context.Context, user UserCreate) (*User, error) {
	var created User
	if err := c.do(ctx, http.MethodPost, "/api/v2/users", user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, update UserUpdate) error {
	return c.do(ctx, http.MethodPatch, "/api/v2/users/"+id, update, nil)
}

func (c *Client) SharingLabels(ctx context.Context) ([]string, error) {
	var labels []string
	if err := c.do(ctx, http.MethodGet, "/api/v1/sharing-labels", nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var libraries []Library
	if err := c.do(ctx, http.MethodGet, "/api/v1/libraries", nil, &libraries); err != nil {
		return nil, err
	}
	return libraries, nil
}

// Catalog lists what can currently be shared.
func (c *Client) Catalog(ctx context.Context) (invite.BackendCatalog, error) {
	labels, err := c.SharingLabels(ctx)
	if err != nil {
		return invite.BackendCatalog{}, fmt.Errorf("failed to get labels from Komga: %w", err)
	}
	libraries, err := c.Libraries(ctx)
	if err != nil {
		return invite.BackendCatalog{}, fmt.Errorf("failed to get libraries from Komga: %w", err)
	}
	cat := invite.BackendCatalog{
		Active:    true,
		Labels:    labels,
		Libraries: make([]invite.Library, 0, len(libraries)),
	}
	for _, l := range libraries {
		cat.Libraries = append(cat.Libraries, invite.Library{ID: l.ID, Name: l.Name, Unavailable: l.Unavailable})
	}
	return cat, nil
}

// CreateAccount creates a Komga user with the grant's roles.
func (c *Client) CreateAccount(ctx context.Context, req models.RedeemRequest, g invite.Grant) (string, error) {
	user, err := c.CreateUser(ctx, UserCreate{
		Email:    req.Email,
		Password: req.Password,
		Roles:    g.Roles,
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ApplyGrant restricts the user to the grant's libraries and labels.
func (c *Client) ApplyGrant(ctx context.Context, accountID string, g invite.Grant) error {
	return c.UpdateUser(ctx, accountID, UserUpdate{
		LabelsAllow:   g.LabelsAllow,
		LabelsExclude: g.LabelsExclude,
		SharedLibraries: SharedLibraries{
			All:        g.AllLibraries,
			LibraryIDs: g.LibraryIDs,
		},
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Komga: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse Komga response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var violations ViolationsError
	if json.Unmarshal(data, &violations) == nil && len(violations.Violations) > 0 {
		return &violations
	}
	var common CommonError
	if json.Unmarshal(data, &common) == nil && (common.Err != "" || common.Message != "") {
		return &common
	}
	return errors.New("komga: unexpected status " + http.StatusText(status))
}
