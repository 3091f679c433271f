package handler

import (
	"sync"

	"github.com/capitalize-ai/listing-assistant/internal/listing"
	"github.com/capitalize-ai/listing-assistant/internal/model"
)

// View is what the listings page of one session currently shows.
type View struct {
	Filter     model.FilterCriteria    `json:"filter"`
	Navigation *model.NavigationTarget `json:"navigation,omitempty"`
	Listings   []model.Listing         `json:"listings"`
}

// SessionHost is the per-session page the assistant drives. Each filter
// directive replaces the page filter; the last navigation target is kept
// until the next one.
type SessionHost struct {
	catalog *listing.Catalog

	mu         sync.Mutex
	filter     model.FilterCriteria
	navigation *model.NavigationTarget
}

// NewSessionHost creates a host showing the whole catalog.
func NewSessionHost(catalog *listing.Catalog) *SessionHost {
	return &SessionHost{catalog: catalog}
}

func (h *SessionHost) OnFilter(criteria model.FilterCriteria) {
	h.mu.Lock()
	h.filter = criteria
	h.mu.Unlock()
}

func (h *SessionHost) OnScrollTo(target model.NavigationTarget) {
	h.mu.Lock()
	h.navigation = &target
	h.mu.Unlock()
}

// View returns the current filter, navigation target and matching listings.
func (h *SessionHost) View() View {
	h.mu.Lock()
	filter := h.filter
	var nav *model.NavigationTarget
	if h.navigation != nil {
		n := *h.navigation
		nav = &n
	}
	h.mu.Unlock()

	return View{
		Filter:     filter,
		Navigation: nav,
		Listings:   h.catalog.Filter(filter),
	}
}
