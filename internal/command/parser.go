// Package command extracts structured UI commands from free-text utterances.
package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

var (
	// "in <words>": letters and spaces up to the first other character.
	locationPattern = regexp.MustCompile(`(?i)in\s+([a-z\s]+)`)
	// "under $<digits>" with optional thousands separators.
	pricePattern = regexp.MustCompile(`(?i)under\s*\$(\d[\d,]*)`)
)

var navigationPhrases = []struct {
	phrase string
	target model.NavigationTarget
}{
	{"scroll to listings", model.NavigateListings},
	{"show listings", model.NavigateListings},
	{"scroll to filters", model.NavigateFilters},
	{"show filters", model.NavigateFilters},
}

// Result is the structured outcome of parsing one utterance.
type Result struct {
	Filter     model.FilterCriteria    `json:"filter"`
	Navigation *model.NavigationTarget `json:"navigation,omitempty"`
}

// HasFilter reports whether any filter field was extracted.
func (r Result) HasFilter() bool {
	return !r.Filter.IsEmpty()
}

// Parse maps an utterance to filter and navigation intents. Location,
// price and navigation are extracted independently; an utterance that
// matches nothing yields an empty Result.
func Parse(utterance string) Result {
	var res Result

	if m := locationPattern.FindStringSubmatch(utterance); m != nil {
		if loc := strings.TrimSpace(m[1]); loc != "" {
			res.Filter.Location = &loc
			metrics.IntentsTotal.WithLabelValues("location").Inc()
		}
	}

	if m := pricePattern.FindStringSubmatch(utterance); m != nil {
		if price, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			res.Filter.MaxPrice = &price
			metrics.IntentsTotal.WithLabelValues("max_price").Inc()
		}
	}

	lower := strings.ToLower(utterance)
	for _, nav := range navigationPhrases {
		if strings.Contains(lower, nav.phrase) {
			target := nav.target
			res.Navigation = &target
			metrics.IntentsTotal.WithLabelValues("navigation").Inc()
			break
		}
	}

	return res
}
