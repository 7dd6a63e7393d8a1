package session

import (
	"context"
	"fmt"

	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/store"
)

// StoreProfiles reads and provisions profiles through the data client.
type StoreProfiles struct {
	client store.Client
}

func NewStoreProfiles(client store.Client) *StoreProfiles {
	return &StoreProfiles{client: client}
}

func (s *StoreProfiles) Profile(ctx context.Context, id string) (*Profile, error) {
	return s.first(ctx, "id", id)
}

// Role implements auth.RoleLookup.
func (s *StoreProfiles) Role(ctx context.Context, userID string) (string, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil || p == nil {
		return "", err
	}
	return p.Role, nil
}

// EnsureDemoAdmin returns the admin profile for email, creating it if absent.
func (s *StoreProfiles) EnsureDemoAdmin(ctx context.Context, email string) (*Profile, error) {
	p, err := s.first(ctx, "email", email)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	rows, err := s.client.Insert(ctx, store.Profiles, store.Row{
		"name":  "Demo Admin",
		"email": email,
		"role":  auth.RoleAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("create demo admin: %w", err)
	}
	return profileFromRow(rows[0]), nil
}

func (s *StoreProfiles) first(ctx context.Context, col, val string) (*Profile, error) {
	rows, err := s.client.Select(ctx, store.Profiles, store.SelectOptions{
		Filters: []store.Filter{{Column: col, Op: store.OpEq, Value: val}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return profileFromRow(rows[0]), nil
}

func profileFromRow(r store.Row) *Profile {
	str := func(k string) string {
		v, _ := r[k].(string)
		return v
	}
	return &Profile{
		ID:       str("id"),
		Name:     str("name"),
		Email:    str("email"),
		Role:     str("role"),
		ClinicID: str("clinic_id"),
	}
}
