// Package listing holds the in-app property dataset.
package listing

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/listing-assistant/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Listings []model.Listing `yaml:"listings"`
}

// Catalog is the current listing dataset. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	listings []model.Listing
}

// NewCatalog creates a catalog holding a copy of listings.
func NewCatalog(listings []model.Listing) *Catalog {
	c := &Catalog{}
	c.Replace(listings)
	return c
}

// Default returns a catalog loaded from the embedded mock inventory.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(f.Listings), nil
}

// Listings returns a copy of the dataset in catalog order.
func (c *Catalog) Listings() []model.Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Listing, len(c.listings))
	copy(out, c.listings)
	return out
}

// Filter returns the listings matching f in catalog order.
func (c *Catalog) Filter(f model.FilterCriteria) []model.Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Listing, 0, len(c.listings))
	for _, l := range c.listings {
		if l.Matches(f) {
			out = append(out, l)
		}
	}
	return out
}

// Replace swaps the dataset.
func (c *Catalog) Replace(listings []model.Listing) {
	cp := make([]model.Listing, len(listings))
	copy(cp, listings)
	c.mu.Lock()
	c.listings = cp
	c.mu.Unlock()
}
