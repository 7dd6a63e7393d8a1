package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinic/crm/internal/platform/localstore"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrUserNotFound       = errors.New("auth: user not found")
)

const minPasswordLength = 8

// User is a credential record in auth_users.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignIn   *time.Time `json:"last_sign_in,omitempty"`
}

// UserRepository persists credential records.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	TouchSignIn(ctx context.Context, id string, at time.Time) error
}

// Session is an authenticated provider session.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordProvider is the built-in identity provider: bcrypt credentials
// in auth_users and HS256 session tokens. SignIn/SignOut/Restore keep the
// current session under localstore.KeyAuthSession.
type PasswordProvider struct {
	users  UserRepository
	tokens *TokenIssuer
	store  localstore.Store
	now    func() time.Time
}

func NewPasswordProvider(users UserRepository, tokens *TokenIssuer, store localstore.Store) *PasswordProvider {
	return &PasswordProvider{users: users, tokens: tokens, store: store, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a credential record.
func (p *PasswordProvider) Register(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies credentials and issues a token without persisting it.
func (p *PasswordProvider) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	u, err := p.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := p.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	// sign-in bookkeeping is best effort
	_ = p.users.TouchSignIn(ctx, u.ID, p.now().UTC())

	return &Session{UserID: u.ID, Email: u.Email, Token: token, ExpiresAt: exp}, nil
}

// SignIn authenticates and persists the session for Restore.
func (p *PasswordProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := p.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := localstore.SetJSON(ctx, p.store, localstore.KeyAuthSession, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// SignOut drops the persisted session.
func (p *PasswordProvider) SignOut(ctx context.Context) error {
	return p.store.Clear(ctx, localstore.KeyAuthSession)
}

// Restore returns the persisted session, or nil when there is none or it
// no longer verifies. Stale records are cleared.
func (p *PasswordProvider) Restore(ctx context.Context) (*Session, error) {
	var s Session
	if err := localstore.GetJSON(ctx, p.store, localstore.KeyAuthSession, &s); err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	claims, err := p.tokens.Parse(s.Token)
	if err != nil || claims.Subject != s.UserID {
		return nil, p.store.Clear(ctx, localstore.KeyAuthSession)
	}
	return &s, nil
}

// Verify parses a bearer token.
func (p *PasswordProvider) Verify(token string) (*Claims, error) {
	return p.tokens.Parse(token)
}
