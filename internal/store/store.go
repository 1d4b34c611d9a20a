package store

import (
	"context"
)

// SavedCountry is one favorites entry, keyed by CCA3.
type SavedCountry struct {
	CCA3    string `json:"cca3"`
	Name    string `json:"name"`
	Region  string `json:"region,omitempty"`
	FlagURL string `json:"flag_url"`
}

// FavoritesStore persists the saved-countries list. SavedCodes doubles as
// the weather pipeline's favorites source for the tracked set.
type FavoritesStore interface {
	// SaveCountry inserts a favorite; it reports false when the country was
	// already saved.
	SaveCountry(ctx context.Context, c SavedCountry) (bool, error)
	ListSaved(ctx context.Context) ([]SavedCountry, error)
	// DeleteCountry removes a favorite; weather.ErrNotFound when absent.
	DeleteCountry(ctx context.Context, code string) error
	SavedCodes(ctx context.Context) ([]string, error)
}
