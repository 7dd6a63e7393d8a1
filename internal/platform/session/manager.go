// Package session holds the dashboard's sign-in state: a provider-backed
// session or a locally recorded admin bypass.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/localstore"
)

// ErrBypassDisabled is returned by BypassAuth when the bypass is off.
var ErrBypassDisabled = errors.New("session: admin bypass is disabled")

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticatedReal
	StateAuthenticatedBypass
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticatedReal:
		return "authenticated"
	case StateAuthenticatedBypass:
		return "bypass"
	default:
		return "unauthenticated"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Profile is the signed-in user's profile row.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
}

// User is the authenticated principal, present before its profile loads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider is the remote identity provider.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context) error
	Restore(ctx context.Context) (*auth.Session, error)
}

// ProfileSource looks up profiles and provisions the demo admin.
type ProfileSource interface {
	Profile(ctx context.Context, id string) (*Profile, error)
	EnsureDemoAdmin(ctx context.Context, email string) (*Profile, error)
}

type Options struct {
	AllowBypass    bool
	BypassEmail    string
	BypassPassword string
}

// StaticBypassProfile is used when the demo admin cannot be provisioned.
func StaticBypassProfile(email string) *Profile {
	return &Profile{ID: "admin-bypass", Name: "Demo Admin", Email: email, Role: auth.RoleAdmin}
}

// Manager is safe for concurrent use.
type Manager struct {
	store    localstore.Store
	provider Provider
	profiles ProfileSource
	pub      events.Publisher
	logger   zerolog.Logger
	opts     Options

	mu      sync.RWMutex
	state   State
	user    *User
	profile *Profile
	session *auth.Session
}

func NewManager(store localstore.Store, provider Provider, profiles ProfileSource, pub events.Publisher, logger zerolog.Logger, opts Options) *Manager {
	if opts.BypassEmail == "" {
		opts.BypassEmail = "admin@example.com"
	}
	if opts.BypassPassword == "" {
		opts.BypassPassword = "demo"
	}
	return &Manager{
		store:    store,
		provider: provider,
		profiles: profiles,
		pub:      pub,
		logger:   logger.With().Str("component", "session").Logger(),
		opts:     opts,
	}
}

// Start restores state on process start. A bypass record wins over a
// provider session; with the bypass disabled a leftover record is removed.
func (m *Manager) Start(ctx context.Context) error {
	var p Profile
	err := localstore.GetJSON(ctx, m.store, localstore.KeyAdminBypass, &p)
	switch {
	case err == nil && !m.opts.AllowBypass:
		m.logger.Warn().Str("user_id", p.ID).Msg("bypass disabled, discarding stored bypass record")
		if err := m.store.Clear(ctx, localstore.KeyAdminBypass); err != nil {
			return fmt.Errorf("clear bypass record: %w", err)
		}
	case err == nil:
		m.mu.Lock()
		m.setBypassLocked(&p)
		m.mu.Unlock()
		m.logger.Info().Str("user_id", p.ID).Msg("restored bypass session")
		return nil
	case !errors.Is(err, localstore.ErrNotFound):
		return fmt.Errorf("read bypass record: %w", err)
	}

	s, err := m.provider.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if s == nil {
		m.reset()
		return nil
	}
	m.mu.Lock()
	m.state = StateAuthenticatedReal
	m.session = s
	m.user = &User{ID: s.UserID, Email: s.Email}
	m.profile = nil
	m.mu.Unlock()
	m.loadProfile(ctx, s.UserID)
	return nil
}

// IsSentinel reports whether the credentials are the reserved demo pair.
func (m *Manager) IsSentinel(email, password string) bool {
	return strings.EqualFold(strings.TrimSpace(email), m.opts.BypassEmail) && password == m.opts.BypassPassword
}

// Login signs in through the provider, or activates the bypass for the
// sentinel credentials when allowed.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if m.opts.AllowBypass && m.IsSentinel(email, password) {
		_, err := m.BypassAuth(ctx)
		return err
	}

	m.mu.Lock()
	m.state = StateAuthenticating
	m.mu.Unlock()

	s, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.reset()
		return err
	}

	m.mu.Lock()
	m.state = StateAuthenticatedReal
	m.session = s
	m.user = &User{ID: s.UserID, Email: s.Email}
	m.profile = nil
	m.mu.Unlock()

	m.loadProfile(ctx, s.UserID)
	m.publish(ctx)
	return nil
}

// BypassAuth fabricates an admin session without provider authentication.
func (m *Manager) BypassAuth(ctx context.Context) (*Profile, error) {
	if !m.opts.AllowBypass {
		return nil, ErrBypassDisabled
	}

	p, err := m.profiles.EnsureDemoAdmin(ctx, m.opts.BypassEmail)
	if err != nil || p == nil {
		m.logger.Warn().Err(err).Msg("demo admin unavailable, using static bypass profile")
		p = StaticBypassProfile(m.opts.BypassEmail)
	}

	if err := localstore.SetJSON(ctx, m.store, localstore.KeyAdminBypass, p); err != nil {
		return nil, fmt.Errorf("persist bypass record: %w", err)
	}

	m.mu.Lock()
	m.setBypassLocked(p)
	m.mu.Unlock()

	m.logger.Info().Str("user_id", p.ID).Msg("admin bypass activated")
	m.publish(ctx)
	cp := *p
	return &cp, nil
}

func (m *Manager) setBypassLocked(p *Profile) {
	m.state = StateAuthenticatedBypass
	m.session = nil
	m.user = &User{ID: p.ID, Email: p.Email}
	m.profile = p
}

// Logout ends the session. A bypass record is cleared locally without
// calling the provider.
func (m *Manager) Logout(ctx context.Context) error {
	bypass, err := localstore.Exists(ctx, m.store, localstore.KeyAdminBypass)
	if err != nil {
		return fmt.Errorf("read bypass record: %w", err)
	}
	if bypass {
		if err := m.store.Clear(ctx, localstore.KeyAdminBypass); err != nil {
			return fmt.Errorf("clear bypass record: %w", err)
		}
	} else if err := m.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	m.reset()
	m.publish(ctx)
	return nil
}

// IsAuthenticated is true with an in-memory user or a stored bypass record,
// even before the profile has loaded.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	m.mu.RLock()
	hasUser := m.user != nil
	m.mu.RUnlock()
	if hasUser {
		return true
	}
	if !m.opts.AllowBypass {
		return false
	}
	ok, err := localstore.Exists(ctx, m.store, localstore.KeyAdminBypass)
	return err == nil && ok
}

// BypassIdentity reports the active bypass as a request identity.
func (m *Manager) BypassIdentity(ctx context.Context) (*auth.Identity, bool) {
	if !m.opts.AllowBypass {
		return nil, false
	}
	var p Profile
	if err := localstore.GetJSON(ctx, m.store, localstore.KeyAdminBypass, &p); err != nil {
		return nil, false
	}
	return &auth.Identity{UserID: p.ID, Email: p.Email, Role: auth.RoleAdmin, Bypass: true}, true
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Profile returns nil when unauthenticated or when the profile lookup failed.
func (m *Manager) Profile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return nil
	}
	cp := *m.profile
	return &cp
}

func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	cp := *m.user
	return &cp
}

// UserID is the acting user's id, or "".
func (m *Manager) UserID() string {
	if u := m.User(); u != nil {
		return u.ID
	}
	return ""
}

// Token is the provider token; bypass sessions have none.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.Token
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUnauthenticated
	m.user = nil
	m.profile = nil
	m.session = nil
}

// loadProfile leaves the profile nil on failure; authentication stands.
func (m *Manager) loadProfile(ctx context.Context, userID string) {
	p, err := m.profiles.Profile(ctx, userID)
	if err != nil || p == nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("profile not loaded, role unknown")
		return
	}
	m.mu.Lock()
	if m.user != nil && m.user.ID == userID {
		m.profile = p
	}
	m.mu.Unlock()
}

// Snapshot is the published and served view of the session.
type Snapshot struct {
	State         State    `json:"state"`
	Authenticated bool     `json:"authenticated"`
	User          *User    `json:"user,omitempty"`
	Profile       *Profile `json:"profile,omitempty"`
}

func (m *Manager) Snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		State:         m.State(),
		Authenticated: m.IsAuthenticated(ctx),
		User:          m.User(),
		Profile:       m.Profile(),
	}
}

func (m *Manager) publish(ctx context.Context) {
	if m.pub == nil {
		return
	}
	data, _ := json.Marshal(m.Snapshot(ctx))
	if err := m.pub.Publish(ctx, events.Event{Type: events.TypeAuthChanged, Topic: events.TopicAuth, Data: data}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to publish auth change")
	}
}
