// Package localstore is the durable key/value store standing in for browser
// local storage: session records and the demo data cache live here.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("localstore: key not found")

// Well-known keys.
const (
	KeyAdminBypass   = "admin_bypass"
	KeyDemoPatients  = "demo_patients"
	KeyDemoFollowUps = "demo_follow_ups"
	KeyAuthSession   = "auth_session"
	demoKeyPrefix    = "demo_"
)

// Store is the get/set/clear capability injected into the session manager
// and the data-access layer.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context, key string) error
}

// DemoKey returns the cache key for a table's demo rows.
func DemoKey(table string) string {
	return demoKeyPrefix + table
}

// GetJSON decodes the value at key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}

// Exists reports whether key holds a value. Read errors other than
// ErrNotFound are returned.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
