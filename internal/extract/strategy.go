// Package extract holds the per-marketplace extraction contract. Each
// marketplace registers one Strategy; the registry picks one per job by URL.
package extract

import (
	"context"

	"github.com/SnapPrice/PriceBox/internal/browser"
	"github.com/SnapPrice/PriceBox/internal/models"
)

// Strategy turns a loaded page into a normalized snapshot for one
// marketplace. It also classifies URLs and resolves the marketplace-native
// product id.
type Strategy interface {
	Marketplace() string
	Matches(url string) bool
	ResolveID(url string) (string, bool)
	Extract(ctx context.Context, page browser.Page, url string) (*models.ProductSnapshot, error)
}

type Registry struct {
	strategies []Strategy
	byMarket   map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byMarket: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	r.byMarket[s.Marketplace()] = s
}

// ForURL returns the first strategy claiming the URL, or nil.
func (r *Registry) ForURL(url string) Strategy {
	for _, s := range r.strategies {
		if s.Matches(url) {
			return s
		}
	}
	return nil
}

func (r *Registry) ForMarketplace(marketplace string) Strategy {
	return r.byMarket[marketplace]
}
