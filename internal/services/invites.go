package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrBackend wraps failures talking to Komga or Navidrome.
	ErrBackend = errors.New("backend request failed")
	// ErrCatalogUnavailable means the library catalog could not be fetched.
	ErrCatalogUnavailable = errors.New("library catalog unavailable")
	// ErrNotRedeemed means the operation needs an invite that has an account.
	ErrNotRedeemed = errors.New("invite has not been redeemed")
)

// Provisioner creates and restricts accounts on one backend.
type Provisioner interface {
	CatalogSource
	CreateAccount(ctx context.Context, req models.RedeemRequest, g invite.Grant) (string, error)
	ApplyGrant(ctx context.Context, accountID string, g invite.Grant) error
	PublicURL() string
}

type InviteStore interface {
	Create(ctx context.Context, inv invite.Invite) error
	Get(ctx context.Context, token uuid.UUID) (invite.Invite, error)
	List(ctx context.Context) ([]invite.Invite, error)
	Delete(ctx context.Context, token uuid.UUID) error
	Consume(ctx context.Context, token uuid.UUID, accountID string, cfg invite.Config, now time.Time) (invite.Grant, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type ActivityLogger interface {
	Log(ctx context.Context, token uuid.UUID, kind, actionType string, accountID *string, metadata map[string]interface{}) error
}

type Broadcaster interface {
	Broadcast(event models.InviteEvent)
}

type Deps struct {
	Store     InviteStore
	Activity  ActivityLogger
	Events    Broadcaster // optional
	Catalog   *CatalogCache
	Backends  []Provisioner
	Retention time.Duration
	Clock     func() time.Time // defaults to time.Now
}

// InviteService creates, redeems and revokes invites.
type InviteService struct {
	store     InviteStore
	activity  ActivityLogger
	events    Broadcaster
	catalog   *CatalogCache
	backends  map[invite.Kind]Provisioner
	retention time.Duration
	now       func() time.Time
	locks     *Locks
}

func NewInviteService(d Deps) *InviteService {
	s := &InviteService{
		store:     d.Store,
		activity:  d.Activity,
		events:    d.Events,
		catalog:   d.Catalog,
		backends:  make(map[invite.Kind]Provisioner, len(d.Backends)),
		retention: d.Retention,
		now:       d.Clock,
		locks:     NewLocks(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, b := range d.Backends {
		s.backends[b.Kind()] = b
	}
	return s
}

// ActiveKinds lists the configured backends, Komga first.
func (s *InviteService) ActiveKinds() []invite.Kind {
	kinds := []invite.Kind{}
	for _, k := range []invite.Kind{invite.KindKomga, invite.KindNavidrome} {
		if _, ok := s.backends[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Config returns a possibly cached catalog snapshot for the creation form.
func (s *InviteService) Config(ctx context.Context) (invite.Config, error) {
	cfg, err := s.catalog.Cached(ctx)
	if err != nil {
		return invite.Config{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return cfg, nil
}

func (s *InviteService) Create(ctx context.Context, p invite.Payload) (invite.Invite, error) {
	cfg, err := s.catalog.Fresh(ctx, p.Kind())
	if err != nil {
		return invite.Invite{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	now := s.now()
	opt, err := invite.Authorize(p, cfg, now)
	if err != nil {
		return invite.Invite{}, err
	}

	inv := invite.New(p.Kind(), opt, now)
	if err := s.store.Create(ctx, inv); err != nil {
		return invite.Invite{}, fmt.Errorf("failed to store invite: %w", err)
	}

	slog.InfoContext(ctx, "invite created", "token", inv.Token, "kind", inv.Kind)
	s.record(ctx, inv, models.ActionInviteCreated, nil, nil)
	s.broadcast(models.EventInviteCreated, inv, "", inv)
	return inv, nil
}

func (s *InviteService) List(ctx context.Context) ([]models.InviteStatus, error) {
	invites, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.InviteStatus, 0, len(invites))
	for _, inv := range invites {
		out = append(out, models.InviteStatus{Invite: inv, Status: status(inv, now)})
	}
	return out, nil
}

// Lookup returns an invite that can still be redeemed. Used and expired
// invites are reported with their own errors rather than as missing.
func (s *InviteService) Lookup(ctx context.Context, token uuid.UUID) (invite.Invite, error) {
	inv, err := s.store.Get(ctx, token)
	if err != nil {
		return invite.Invite{}, err
	}
	switch {
	case inv.Consumed():
		return inv, invite.ErrAlreadyConsumed
	case inv.ExpiredAt(s.now()):
		return inv, invite.ErrExpired
	}
	return inv, nil
}

func (s *InviteService) Delete(ctx context.Context, token uuid.UUID) error {
	inv, err := s.store.Get(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return err
	}
	slog.InfoContext(ctx, "invite deleted", "token", token)
	s.record(ctx, inv, models.ActionInviteDeleted, nil, nil)
	s.broadcast(models.EventInviteDeleted, inv, "", nil)
	return nil
}

// Redeem creates an account on the invite's backend, binds it to the
// invite, and applies the grant. Redemptions of one token are serialised in
// this process; the store's conditional update guards across processes.
func (s *InviteService) Redeem(ctx context.Context, token uuid.UUID, req models.RedeemRequest) (models.RedeemResponse, error) {
	unlock := s.locks.Lock(token.String())
	defer unlock()

	inv, err := s.store.Get(ctx, token)
	if err != nil {
		return models.RedeemResponse{}, err
	}
	backend, ok := s.backends[inv.Kind]
	if !ok {
		return models.RedeemResponse{}, fmt.Errorf("%w: %s", invite.ErrInactiveBackend, inv.Kind)
	}

	cfg, err := s.catalog.Fresh(ctx, inv.Kind)
	if err != nil {
		return models.RedeemResponse{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	grant, err := invite.Validate(inv, cfg, s.now())
	if err != nil {
		return models.RedeemResponse{}, err
	}

	slog.InfoContext(ctx, "creating account", "token", token, "kind", inv.Kind, "email", req.Email)
	accountID, err := backend.CreateAccount(ctx, req, grant)
	if err != nil {
		s.record(ctx, inv, models.ActionRedeemFailed, nil, map[string]interface{}{"error": err.Error()})
		return models.RedeemResponse{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	grant, err = s.store.Consume(ctx, token, accountID, cfg, s.now())
	if err != nil {
		slog.WarnContext(ctx, "account created but invite not consumed", "token", token, "account", accountID, "err", err)
		return models.RedeemResponse{}, err
	}

	if err := backend.ApplyGrant(ctx, accountID, grant); err != nil {
		slog.ErrorContext(ctx, "failed to apply grant", "token", token, "account", accountID, "err", err)
		s.record(ctx, inv, models.ActionRedeemFailed, &accountID, map[string]interface{}{"error": err.Error()})
		return models.RedeemResponse{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	slog.InfoContext(ctx, "invite redeemed", "token", token, "account", accountID)
	s.record(ctx, inv, models.ActionInviteRedeemed, &accountID, map[string]interface{}{"host": backend.PublicURL()})
	s.broadcast(models.EventInviteRedeemed, inv, accountID, grant)
	return models.RedeemResponse{Host: backend.PublicURL(), Grant: grant}, nil
}

// Reapply applies a redeemed invite's grant to its account again, resolved
// against the current catalog. Used when applying failed during Redeem.
func (s *InviteService) Reapply(ctx context.Context, token uuid.UUID) (invite.Grant, error) {
	unlock := s.locks.Lock(token.String())
	defer unlock()

	inv, err := s.store.Get(ctx, token)
	if err != nil {
		return invite.Grant{}, err
	}
	accountID, ok := inv.UserID.Get()
	if !ok {
		return invite.Grant{}, ErrNotRedeemed
	}
	backend, ok := s.backends[inv.Kind]
	if !ok {
		return invite.Grant{}, fmt.Errorf("%w: %s", invite.ErrInactiveBackend, inv.Kind)
	}

	cfg, err := s.catalog.Fresh(ctx, inv.Kind)
	if err != nil {
		return invite.Grant{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	grant := invite.Resolve(inv, cfg)
	if err := backend.ApplyGrant(ctx, accountID, grant); err != nil {
		slog.ErrorContext(ctx, "failed to reapply grant", "token", token, "account", accountID, "err", err)
		return invite.Grant{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	slog.InfoContext(ctx, "grant reapplied", "token", token, "account", accountID)
	s.record(ctx, inv, models.ActionGrantReapplied, &accountID, nil)
	s.broadcast(models.EventGrantReapplied, inv, accountID, grant)
	return grant, nil
}

// Sweep deletes invites that expired more than the retention window ago.
func (s *InviteService) Sweep(ctx context.Context) (int, error) {
	tokens, err := s.store.PurgeExpired(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	for _, token := range tokens {
		s.record(ctx, invite.Invite{Token: token}, models.ActionInvitePurged, nil, nil)
		if s.events != nil {
			s.events.Broadcast(models.InviteEvent{Type: models.EventInvitePurged, Token: token.String()})
		}
	}
	return len(tokens), nil
}

func (s *InviteService) record(ctx context.Context, inv invite.Invite, action string, accountID *string, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Log(ctx, inv.Token, string(inv.Kind), action, accountID, metadata); err != nil {
		slog.WarnContext(ctx, "failed to log activity", "token", inv.Token, "action", action, "err", err)
	}
}

func (s *InviteService) broadcast(eventType string, inv invite.Invite, accountID string, data interface{}) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(models.InviteEvent{
		Type:      eventType,
		Token:     inv.Token.String(),
		Kind:      string(inv.Kind),
		AccountID: accountID,
		Data:      data,
	})
}

func status(inv invite.Invite, now time.Time) string {
	switch {
	case inv.Consumed():
		return "consumed"
	case inv.ExpiredAt(now):
		return "expired"
	}
	return "pending"
}
