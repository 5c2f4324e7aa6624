// Package cache stores listing responses (brands, models, years) for a
// pinned pricing reference. Listings for a past reference never change,
// so cached entries are reused across runs to save daily request budget.
// Price lookups are never cached.
package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrCacheMiss is returned when a key is not present in the store.
var ErrCacheMiss = errors.New("cache miss")

// Key identifies one cached listing response.
type Key struct {
	// Reference is the pricing reference code the listing was fetched under.
	Reference string

	// VehicleType is the catalog subtree (cars, motorcycles, trucks).
	VehicleType string

	// Name identifies the listing within the subtree, e.g. "brands",
	// "models_21" or "years_21_4828".
	Name string
}

// String renders the key in colon-separated form for flat stores.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Reference, k.VehicleType, k.Name)
}

// Store is a listing cache backend.
type Store interface {
	// Get returns the cached body for key, or ErrCacheMiss.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores the body for key.
	Set(ctx context.Context, key Key, data []byte) error
}
