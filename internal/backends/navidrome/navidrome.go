// Package navidrome is a minimal client for the Navidrome native API.
package navidrome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arnold/klibrarian-api/internal/config"
	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

const (
	userAgent  = "K-Librarian (+https://github.com/noaione/klibrarian)"
	authHeader = "x-nd-authorization"
)

// Claims are the fields of a Navidrome session token we care about.
type Claims struct {
	Admin bool   `json:"adm"`
	UID   string `json:"uid"`
	jwt.RegisteredClaims
}

type Library struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID string `json:"id"`
}

type UserCreate struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
	Name     string `json:"name"`
	UserName string `json:"userName"`
}

// Error is a non-success response from Navidrome.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("navidrome: %s: %s", http.StatusText(e.Status), e.Body)
}

// Client is safe for concurrent use. Navidrome rotates the session token on
// every response; the latest one is kept.
type Client struct {
	baseURL   string
	publicURL string
	http      *http.Client

	mu     sync.Mutex
	token  string
	claims Claims
}

// Login authenticates against Navidrome and returns a ready client.
func Login(ctx context.Context, cfg config.BackendConfig) (*Client, error) {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.Host, "/"),
		publicURL: cfg.PublicHost(),
		http:      &http.Client{Timeout: 30 * time.Second},
	}

	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{"username": cfg.Username, "password": cfg.Password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &resp); err != nil {
		return nil, fmt.Errorf("failed to log in to Navidrome: %w", err)
	}
	if err := c.setToken(resp.Token); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Kind() invite.Kind { return invite.KindNavidrome }

func (c *Client) Host() string { return c.baseURL }

func (c *Client) PublicURL() string { return c.publicURL }

func (c *Client) Claims() Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	q := url.Values{}
	q.Set("_end", "-1")
	q.Set("_start", "0")
	q.Set("_sort", "id")
	q.Set("_order", "asc")

	var libraries []Library
	if err := c.do(ctx, http.MethodGet, "/api/library?"+q.Encode(), nil, &libraries); err != nil {
		return nil, err
	}
	return libraries, nil
}

func (c *Client) CreateUser(ctx context.Context, user UserCreate) (*User, error) {
	var created User
	if err := c.do(ctx, http.MethodPost, "/api/user", user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) SetUserLibraries(ctx context.Context, id string, libraryIDs []int64) error {
	body := map[string][]int64{"libraryIds": libraryIDs}
	return c.do(ctx, http.MethodPut, "/api/user/"+id+"/library", body, nil)
}

func (c *Client) Catalog(ctx context.Context) (invite.BackendCatalog, error) {
	libraries, err := c.Libraries(ctx)
	if err != nil {
		return invite.BackendCatalog{}, fmt.Errorf("failed to get libraries from Navidrome: %w", err)
	}
	return invite.BackendCatalog{
		Active: true,
		Libraries: lo.Map(libraries, func(l Library, _ int) invite.Library {
			return invite.Library{ID: strconv.FormatInt(l.ID, 10), Name: l.Name}
		}),
	}, nil
}

func (c *Client) CreateAccount(ctx context.Context, req models.RedeemRequest, g invite.Grant) (string, error) {
	user, err := c.CreateUser(ctx, UserCreate{
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  g.HasRole(invite.RoleNavidromeAdmin),
		Name:     req.Username,
		UserName: req.Username,
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ApplyGrant sets the user's libraries. Administrators see every library
// already, so nothing is sent for them.
func (c *Client) ApplyGrant(ctx context.Context, accountID string, g invite.Grant) error {
	if g.HasRole(invite.RoleNavidromeAdmin) {
		return nil
	}

	ids := g.LibraryIDs
	if g.AllLibraries {
		cat, err := c.Catalog(ctx)
		if err != nil {
			return err
		}
		ids = cat.LibraryIDs()
	}

	libraryIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("navidrome library id %q: %w", id, err)
		}
		libraryIDs = append(libraryIDs, n)
	}
	return c.SetUserLibraries(ctx, accountID, libraryIDs)
}

// setToken stores a session token after reading its claims. The signature
// is not checked; the token came straight from the server.
func (c *Client) setToken(token string) error {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("failed to decode Navidrome token: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.claims = claims
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
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
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set(authHeader, "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Navidrome: %w", err)
	}
	defer resp.Body.Close()

	if refreshed := strings.TrimPrefix(resp.Header.Get(authHeader), "Bearer "); refreshed != "" {
		// A malformed refresh keeps the previous token.
		_ = c.setToken(refreshed)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse Navidrome response: %w", err)
	}
	return nil
}
