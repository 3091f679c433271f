package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/capitalize-ai/listing-assistant/internal/listing"
	"github.com/capitalize-ai/listing-assistant/internal/model"
)

// ListingHandler serves the property catalog.
type ListingHandler struct {
	catalog *listing.Catalog
}

// NewListingHandler creates a listing handler.
func NewListingHandler(catalog *listing.Catalog) *ListingHandler {
	return &ListingHandler{catalog: catalog}
}

// List handles GET /api/v1/listings?location=&maxPrice=
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	var f model.FilterCriteria
	q := r.URL.Query()

	if loc := strings.TrimSpace(q.Get("location")); loc != "" {
		f.Location = model.String(loc)
	}
	if mp := q.Get("maxPrice"); mp != "" {
		n, err := strconv.Atoi(mp)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "maxPrice must be a non-negative integer")
			return
		}
		f.MaxPrice = model.Int(n)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listings": h.catalog.Filter(f),
	})
}
