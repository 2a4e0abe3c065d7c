// Package classify decides whether an incoming row duplicates a row already
// in the store, by comparing natural keys with formatting noise removed.
package classify

import (
	"context"
	"strings"

	"crmloader/internal/store"
)

// KeyFinder is the read-only lookup the classifier depends on. *store.Session
// and store.Reader both satisfy it.
type KeyFinder interface {
	FindByNaturalKey(ctx context.Context, kl store.KeyLookup, key string, excludeID *int64) (*store.Match, error)
}

// Existing identifies the stored row a source row collides with.
type Existing struct {
	ID   int64
	Name string
	Key  string
}

// NormalizeKey removes spaces and hyphens, so "999-111 222" and "999111222"
// compare equal.
func NormalizeKey(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
}

// Classifier looks rows up by natural key.
type Classifier struct {
	Finder KeyFinder
	Lookup store.KeyLookup
}

// Classify returns the existing row with the same normalized key, or nil when
// there is none or the key is empty after normalization. excludingID skips
// the row being updated so it is never reported as its own duplicate.
func (c Classifier) Classify(ctx context.Context, key string, excludingID *int64) (*Existing, error) {
	k := NormalizeKey(key)
	if k == "" {
		return nil, nil
	}
	m, err := c.Finder.FindByNaturalKey(ctx, c.Lookup, k, excludingID)
	if err != nil || m == nil {
		return nil, err
	}
	return &Existing{ID: m.ID, Name: m.Name.String, Key: m.Key.String}, nil
}
