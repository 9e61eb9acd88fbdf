// Package sync implements the synchronization engine: per-section entity
// writes with conflict resolution, delta computation against the section
// timestamp ledger, cursor pagination, and whole-account export/import.
package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/models"
)

// Collection describes one synced entity section: which incoming fields are
// canonical, whether net-new inserts are quota-gated, and whether deletes
// are soft.
type Collection struct {
	Section     models.Section
	QuotaGated  bool
	SoftDelete  bool
	KnownFields map[string]struct{}
}

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

var collections = map[models.Section]Collection{
	models.SectionInventory: {
		Section:    models.SectionInventory,
		QuotaGated: true,
		SoftDelete: true,
		KnownFields: fieldSet("name", "quantity", "unit", "category", "locationId",
			"expiryDate", "purchaseDate", "openedAt", "notes", "imageUrl", "barcode"),
	},
	models.SectionRecipes: {
		Section:    models.SectionRecipes,
		QuotaGated: true,
		KnownFields: fieldSet("title", "description", "ingredients", "steps", "servings",
			"prepTimeMinutes", "cookTimeMinutes", "tags", "imageUrl", "sourceUrl"),
	},
	models.SectionMealPlans: {
		Section:     models.SectionMealPlans,
		KnownFields: fieldSet("date", "mealType", "recipeId", "servings", "notes"),
	},
	models.SectionShoppingList: {
		Section: models.SectionShoppingList,
		KnownFields: fieldSet("name", "quantity", "unit", "category", "checked",
			"recipeId", "notes"),
	},
	models.SectionCookware: {
		Section:     models.SectionCookware,
		QuotaGated:  true,
		KnownFields: fieldSet("name", "type", "material", "sizeLabel", "notes", "imageUrl"),
	},
	models.SectionCustomLocations: {
		Section:     models.SectionCustomLocations,
		KnownFields: fieldSet("name", "icon", "sortOrder"),
	},
}

// CollectionFor returns the descriptor for an entity section.
func CollectionFor(section models.Section) (Collection, bool) {
	c, ok := collections[section]
	return c, ok
}

// ParsePayload lifts id and updatedAt out of a flat client object and splits
// the remaining fields into canonical data and the extension bag. The
// returned data map keeps a copy of the declared updatedAt so it survives a
// round trip through storage.
func (c Collection) ParsePayload(payload map[string]json.RawMessage) (itemID string, declared *time.Time, data, extra map[string]json.RawMessage, err error) {
	rawID, ok := payload["id"]
	if !ok {
		return "", nil, nil, nil, fmt.Errorf("%w: missing item id", common.ErrValidation)
	}
	if err := json.Unmarshal(rawID, &itemID); err != nil || itemID == "" {
		return "", nil, nil, nil, fmt.Errorf("%w: item id must be a non-empty string", common.ErrValidation)
	}

	data = make(map[string]json.RawMessage)
	extra = make(map[string]json.RawMessage)
	for k, v := range payload {
		switch {
		case k == "id":
			// lifted to the item_id column
		case k == "updatedAt":
			data[k] = v
		default:
			if _, known := c.KnownFields[k]; known {
				data[k] = v
			} else {
				extra[k] = v
			}
		}
	}

	if ts, ok := timeFromRaw(payload["updatedAt"]); ok {
		declared = &ts
	}
	return itemID, declared, data, extra, nil
}

func timeFromRaw(raw json.RawMessage) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, false
		}
	}
	return ts, true
}
