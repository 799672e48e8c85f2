/*
catalog.go - Pre-built perk definitions for demo card products

PURPOSE:
  Ready-to-use catalog entries covering each cycle shape the engine
  supports. Production catalogs are imported with factory.LoadCatalogFile;
  these presets seed development servers and scenarios.

AVAILABLE CARD PRODUCTS:
  CardPlatinum:    Monthly rideshare and dining credits, semi-annual
                   retail credit, annual airline fee credit
  CardGold:        Monthly dining and grocery credits
  CardTravel:      Quarterly lounge credit, anniversary hotel night

CUSTOMIZATION:
  Each preset is a plain PerkDefinition. Copy and change Value or
  PeriodMonths to model a different card.

SEE ALSO:
  - factory/catalog.go: JSON/YAML catalog import
*/
package perks

import "github.com/warp/perk-engine/generic"

const (
	CardPlatinum CardProductID = "platinum"
	CardGold     CardProductID = "gold"
	CardTravel   CardProductID = "travel"
)

// =============================================================================
// PRESETS
// =============================================================================

// MonthlyCredit returns a calendar-monthly dollar credit.
func MonthlyCredit(id PerkID, card CardProductID, name string, dollars float64, category string) PerkDefinition {
	return PerkDefinition{
		ID:            id,
		CardProductID: card,
		Name:          name,
		Value:         generic.NewAmount(dollars, generic.UnitUSD),
		PeriodMonths:  1,
		ResetPolicy:   generic.ResetCalendar,
		Category:      category,
	}
}

// CalendarCredit returns a dollar credit renewing every periodMonths on
// calendar boundaries.
func CalendarCredit(id PerkID, card CardProductID, name string, dollars float64, periodMonths int, category string) PerkDefinition {
	d := MonthlyCredit(id, card, name, dollars, category)
	d.PeriodMonths = periodMonths
	return d
}

// AnniversaryCredit returns a credit that renews on the card's open date.
func AnniversaryCredit(id PerkID, card CardProductID, name string, value generic.Amount, periodMonths int, category string) PerkDefinition {
	return PerkDefinition{
		ID:            id,
		CardProductID: card,
		Name:          name,
		Value:         value,
		PeriodMonths:  periodMonths,
		ResetPolicy:   generic.ResetAnniversary,
		Category:      category,
	}
}

// DemoCatalog returns the perks of the three demo card products.
func DemoCatalog() []PerkDefinition {
	rideshare := MonthlyCredit("platinum-rideshare", CardPlatinum, "Rideshare Credit", 15, "travel")
	rideshare.Providers = []string{"uber", "lyft"}

	return []PerkDefinition{
		rideshare,
		MonthlyCredit("platinum-dining", CardPlatinum, "Dining Credit", 20, "dining"),
		CalendarCredit("platinum-retail", CardPlatinum, "Retail Credit", 50, 6, "shopping"),
		CalendarCredit("platinum-airline", CardPlatinum, "Airline Fee Credit", 200, 12, "travel"),

		MonthlyCredit("gold-dining", CardGold, "Dining Credit", 10, "dining"),
		MonthlyCredit("gold-grocery", CardGold, "Grocery Credit", 10, "groceries"),

		CalendarCredit("travel-lounge", CardTravel, "Lounge Credit", 100, 3, "travel"),
		AnniversaryCredit("travel-hotel", CardTravel, "Free Night Award",
			generic.NewAmountFromInt(35000, generic.UnitPoints), 12, "travel"),
	}
}
