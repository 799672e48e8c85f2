/*
Package factory provides JSON/YAML to Go catalog conversion.

PURPOSE:
  Converts perk catalog files into []perks.PerkDefinition. Card products
  and their credits change more often than code - the catalog can be
  edited, reviewed and imported without a release.

SCHEMA (JSON; YAML uses the same keys):
  {
    "perks": [
      {
        "id": "platinum-rideshare",
        "card_product_id": "platinum",
        "name": "Rideshare Credit",
        "value": 15,
        "unit": "USD",
        "period_months": 1,
        "reset_policy": "calendar",
        "category": "travel",
        "providers": ["uber", "lyft"]
      }
    ]
  }

  A bare top-level array of perks is accepted too.

RULES:
  - id, card_product_id and name are required
  - value > 0, period_months >= 1
  - reset_policy is calendar (default) or anniversary
  - unit defaults to USD
  - ids are unique across the file

USAGE:
  defs, err := factory.LoadCatalogFile("./catalog.yaml")
  if err != nil {
      log.Fatal(err)
  }
  svc.ImportCatalog(ctx, defs)

SEE ALSO:
  - perks/catalog.go: Built-in presets for the demo card products
  - perks/types.go: PerkDefinition
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/perk-engine/generic"
	"github.com/warp/perk-engine/perks"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog wraps every parse and validation failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// CatalogJSON is the file representation of a catalog.
type CatalogJSON struct {
	Perks []PerkJSON `json:"perks" yaml:"perks" validate:"dive"`
}

// PerkJSON is one catalog entry.
type PerkJSON struct {
	ID            string   `json:"id" yaml:"id" validate:"required"`
	CardProductID string   `json:"card_product_id" yaml:"card_product_id" validate:"required"`
	Name          string   `json:"name" yaml:"name" validate:"required"`
	Value         float64  `json:"value" yaml:"value" validate:"gt=0"`
	Unit          string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	PeriodMonths  int      `json:"period_months" yaml:"period_months" validate:"gte=1"`
	ResetPolicy   string   `json:"reset_policy,omitempty" yaml:"reset_policy,omitempty" validate:"omitempty,oneof=calendar anniversary"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
	Providers     []string `json:"providers,omitempty" yaml:"providers,omitempty" validate:"dive,required"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

var validate = validator.New()

// ParseCatalogJSON parses a JSON catalog (object with "perks" or bare array).
func ParseCatalogJSON(data []byte) ([]perks.PerkDefinition, error) {
	var cj CatalogJSON
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cj.Perks); err != nil {
			return nil, fmt.Errorf("%w: failed to parse catalog JSON: %v", ErrInvalidCatalog, err)
		}
	} else if err := json.Unmarshal(trimmed, &cj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog JSON: %v", ErrInvalidCatalog, err)
	}
	return FromJSON(cj)
}

// ParseCatalogYAML parses a YAML catalog with the same shape as the JSON one.
func ParseCatalogYAML(data []byte) ([]perks.PerkDefinition, error) {
	var cj CatalogJSON
	var list []PerkJSON
	if err := yaml.Unmarshal(data, &list); err == nil && list != nil {
		cj.Perks = list
	} else if err := yaml.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog YAML: %v", ErrInvalidCatalog, err)
	}
	return FromJSON(cj)
}

// LoadCatalogFile picks the parser from the file extension.
func LoadCatalogFile(path string) ([]perks.PerkDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseCatalogYAML(data)
	case ".json":
		return ParseCatalogJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported catalog extension %q", ErrInvalidCatalog, filepath.Ext(path))
	}
}

// FromJSON validates the catalog and converts it to definitions.
func FromJSON(cj CatalogJSON) ([]perks.PerkDefinition, error) {
	if len(cj.Perks) == 0 {
		return nil, fmt.Errorf("%w: no perks", ErrInvalidCatalog)
	}
	if err := validate.Struct(cj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	seen := make(map[string]bool, len(cj.Perks))
	defs := make([]perks.PerkDefinition, 0, len(cj.Perks))
	for _, pj := range cj.Perks {
		if seen[pj.ID] {
			return nil, fmt.Errorf("%w: duplicate perk id %q", ErrInvalidCatalog, pj.ID)
		}
		seen[pj.ID] = true
		defs = append(defs, toDefinition(pj))
	}
	return defs, nil
}

// ToJSON converts definitions back to the file representation.
func ToJSON(defs []perks.PerkDefinition) CatalogJSON {
	cj := CatalogJSON{Perks: make([]PerkJSON, 0, len(defs))}
	for _, d := range defs {
		value, _ := d.Value.Value.Float64()
		cj.Perks = append(cj.Perks, PerkJSON{
			ID:            string(d.ID),
			CardProductID: string(d.CardProductID),
			Name:          d.Name,
			Value:         value,
			Unit:          string(d.Value.Unit),
			PeriodMonths:  d.PeriodMonths,
			ResetPolicy:   string(d.ResetPolicy),
			Category:      d.Category,
			Providers:     d.Providers,
		})
	}
	return cj
}

func toDefinition(pj PerkJSON) perks.PerkDefinition {
	return perks.PerkDefinition{
		ID:            perks.PerkID(pj.ID),
		CardProductID: perks.CardProductID(pj.CardProductID),
		Name:          pj.Name,
		Value:         generic.NewAmount(pj.Value, parseUnit(pj.Unit)),
		PeriodMonths:  pj.PeriodMonths,
		ResetPolicy:   parseResetPolicy(pj.ResetPolicy),
		Category:      pj.Category,
		Providers:     pj.Providers,
	}
}

func parseUnit(s string) generic.Unit {
	switch strings.ToLower(s) {
	case "", "usd", "$":
		return generic.UnitUSD
	case "points":
		return generic.UnitPoints
	default:
		return generic.Unit(s)
	}
}

func parseResetPolicy(s string) generic.ResetPolicy {
	if s == string(generic.ResetAnniversary) {
		return generic.ResetAnniversary
	}
	return generic.ResetCalendar
}
