/*
catalog.go - Pre-built reward catalogs

PURPOSE:
  Ready-to-use reward lists for a location. Used by demo scenarios and
  tests; production catalogs come from the catalog collaborator.

AVAILABLE CATALOGS:
  StandardCatalog:
    - Free drink (15), free meal (30), preferred shift pick (50),
      extra break (75), paid half day (200)

  StarterCatalog:
    - Free drink (15), free meal (30)
    - For new locations that have not set up a full catalog

EXAMPLE:
  items := rewards.StandardCatalog("loc-downtown")
  for _, it := range items {
      catalog.SaveReward(ctx, it)
  }
*/
package rewards

import (
	"github.com/warp/recognition-ledger/ledger"
)

type catalogEntry struct {
	slug string
	name string
	cost int64
}

var standardEntries = []catalogEntry{
	{"free-drink", "Free Drink", 15},
	{"free-meal", "Free Meal", 30},
	{"shift-pick", "Preferred Shift Pick", 50},
	{"extra-break", "Extra 15-Minute Break", 75},
	{"half-day", "Paid Half Day Off", 200},
}

// StandardCatalog returns the full reward list for a location.
// Reward ids are "<location>-<slug>".
func StandardCatalog(locationID ledger.LocationID) []RewardItem {
	return buildCatalog(locationID, standardEntries)
}

// StarterCatalog returns the two cheapest standard rewards.
func StarterCatalog(locationID ledger.LocationID) []RewardItem {
	return buildCatalog(locationID, standardEntries[:2])
}

func buildCatalog(locationID ledger.LocationID, entries []catalogEntry) []RewardItem {
	items := make([]RewardItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, RewardItem{
			ID:         string(locationID) + "-" + e.slug,
			LocationID: locationID,
			Name:       e.name,
			PointsCost: e.cost,
			Active:     true,
		})
	}
	return items
}
