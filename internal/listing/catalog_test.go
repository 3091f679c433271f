package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capitalize-ai/listing-assistant/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefault_LoadsEmbeddedInventory(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	all := c.Listings()
	require.NotEmpty(t, all)
	for _, l := range all {
		assert.NotEmpty(t, l.ID)
		assert.NotEmpty(t, l.Title)
		assert.Positive(t, l.Price)
	}
}

func TestCatalog_Filter(t *testing.T) {
	c := NewCatalog([]model.Listing{
		{ID: "a", Title: "A", Price: 500000, Location: "Austin, TX"},
		{ID: "b", Title: "B", Price: 900000, Location: "Austin, TX"},
		{ID: "c", Title: "C", Price: 300000, Location: "Denver, CO"},
	})

	ids := func(ls []model.Listing) []string {
		var out []string
		for _, l := range ls {
			out = append(out, l.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(c.Filter(model.FilterCriteria{})))
	assert.Equal(t, []string{"a", "b"}, ids(c.Filter(model.FilterCriteria{Location: model.String("austin")})))
	assert.Equal(t, []string{"a", "c"}, ids(c.Filter(model.FilterCriteria{MaxPrice: model.Int(500000)})))
	assert.Equal(t, []string{"a"}, ids(c.Filter(model.FilterCriteria{
		Location: model.String("Austin"),
		MaxPrice: model.Int(600000),
	})))
	assert.Empty(t, c.Filter(model.FilterCriteria{Location: model.String("Boston")}))
}

func TestCatalog_ListingsReturnsCopy(t *testing.T) {
	c := NewCatalog([]model.Listing{{ID: "a", Title: "Original"}})
	got := c.Listings()
	got[0].Title = "Mutated"
	assert.Equal(t, "Original", c.Listings()[0].Title)
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("listings: [unterminated"))
	assert.Error(t, err)
}
