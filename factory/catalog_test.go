package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
)

const rideshareJSON = `{
	"perks": [
		{
			"id": "platinum-rideshare",
			"card_product_id": "platinum",
			"name": "Rideshare Credit",
			"value": 15,
			"period_months": 1,
			"category": "travel",
			"providers": ["uber", "lyft"]
		},
		{
			"id": "travel-hotel",
			"card_product_id": "travel",
			"name": "Free Night",
			"value": 35000,
			"unit": "points",
			"period_months": 12,
			"reset_policy": "anniversary"
		}
	]
}`

func TestParseCatalogJSON(t *testing.T) {
	defs, err := ParseCatalogJSON([]byte(rideshareJSON))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	rides := defs[0]
	assert.Equal(t, perks.PerkID("platinum-rideshare"), rides.ID)
	assert.Equal(t, perks.CardProductID("platinum"), rides.CardProductID)
	assert.True(t, rides.Value.Equal(generic.NewAmount(15, generic.UnitUSD)))
	assert.Equal(t, generic.UnitUSD, rides.Value.Unit, "unit defaults to USD")
	assert.Equal(t, generic.ResetCalendar, rides.ResetPolicy, "policy defaults to calendar")
	assert.Equal(t, []string{"uber", "lyft"}, rides.Providers)

	hotel := defs[1]
	assert.Equal(t, generic.UnitPoints, hotel.Value.Unit)
	assert.Equal(t, generic.ResetAnniversary, hotel.ResetPolicy)
	assert.Equal(t, 12, hotel.PeriodMonths)
}

func TestParseCatalogJSON_BareArray(t *testing.T) {
	defs, err := ParseCatalogJSON([]byte(`[{"id":"a","card_product_id":"c","name":"A","value":5,"period_months":3}]`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 3, defs[0].PeriodMonths)
}

func TestParseCatalogYAML(t *testing.T) {
	doc := `
perks:
  - id: gold-dining
    card_product_id: gold
    name: Dining Credit
    value: 10
    period_months: 1
    category: dining
`
	defs, err := ParseCatalogYAML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Dining Credit", defs[0].Name)
	assert.Equal(t, "dining", defs[0].Category)

	bare := "- {id: x, card_product_id: c, name: X, value: 1, period_months: 6}\n"
	defs, err = ParseCatalogYAML([]byte(bare))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 6, defs[0].PeriodMonths)
}

func TestFromJSON_ValidationFailures(t *testing.T) {
	valid := PerkJSON{ID: "a", CardProductID: "c", Name: "A", Value: 10, PeriodMonths: 1}

	tests := []struct {
		name   string
		mutate func(p *PerkJSON)
	}{
		{"missing id", func(p *PerkJSON) { p.ID = "" }},
		{"missing card", func(p *PerkJSON) { p.CardProductID = "" }},
		{"missing name", func(p *PerkJSON) { p.Name = "" }},
		{"zero value", func(p *PerkJSON) { p.Value = 0 }},
		{"negative value", func(p *PerkJSON) { p.Value = -5 }},
		{"zero period", func(p *PerkJSON) { p.PeriodMonths = 0 }},
		{"unknown policy", func(p *PerkJSON) { p.ResetPolicy = "weekly" }},
		{"empty provider", func(p *PerkJSON) { p.Providers = []string{"uber", ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := FromJSON(CatalogJSON{Perks: []PerkJSON{p}})
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}

	_, err := FromJSON(CatalogJSON{Perks: []PerkJSON{valid}})
	assert.NoError(t, err)
}

func TestFromJSON_DuplicateIDs(t *testing.T) {
	p := PerkJSON{ID: "a", CardProductID: "c", Name: "A", Value: 10, PeriodMonths: 1}

	_, err := FromJSON(CatalogJSON{Perks: []PerkJSON{p, p}})
	assert.ErrorIs(t, err, ErrInvalidCatalog)
	assert.Contains(t, err.Error(), `duplicate perk id "a"`)
}

func TestFromJSON_Empty(t *testing.T) {
	_, err := ParseCatalogJSON([]byte(`{"perks": []}`))
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = ParseCatalogJSON([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(rideshareJSON), 0o644))
	defs, err := LoadCatalogFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	txtPath := filepath.Join(dir, "catalog.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(rideshareJSON), 0o644))
	_, err = LoadCatalogFile(txtPath)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = LoadCatalogFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestToJSON_RoundTripsDemoCatalog(t *testing.T) {
	demo := perks.DemoCatalog()

	defs, err := FromJSON(ToJSON(demo))
	require.NoError(t, err)
	require.Len(t, defs, len(demo))
	for i := range demo {
		assert.Equal(t, demo[i].ID, defs[i].ID)
		assert.True(t, demo[i].Value.Equal(defs[i].Value), "%s value", demo[i].ID)
		assert.Equal(t, demo[i].ResetPolicy, defs[i].ResetPolicy)
	}
}
