// Package catalog holds the static table of purchasable resources.
package catalog

import (
	"fmt"

	"github.com/quantaliz/solaibot/types"
)

// ErrNotFound is returned for resource IDs absent from the catalog.
var ErrNotFound = types.NewProtocolError(types.ErrResourceNotFound, "resource not found")

// Resource describes one purchasable resource: its price and the gated
// payload released after payment settles.
type Resource struct {
	ID          string
	Price       types.Price
	Description string

	// Payload produces the gated data. It is a function because some
	// payloads embed per-access values such as fresh API keys.
	Payload func() map[string]interface{}
}

// Catalog is a read-only resource table. Lookups are O(1) by ID.
type Catalog struct {
	resources map[string]Resource
}

// New builds a catalog from the given resources.
func New(resources ...Resource) (*Catalog, error) {
	table := make(map[string]Resource, len(resources))
	for _, res := range resources {
		if res.ID == "" {
			return nil, fmt.Errorf("resource with empty ID")
		}
		if res.Price.IsZero() {
			return nil, fmt.Errorf("resource %s has no price", res.ID)
		}
		if res.Payload == nil {
			return nil, fmt.Errorf("resource %s has no payload", res.ID)
		}
		if _, dup := table[res.ID]; dup {
			return nil, fmt.Errorf("duplicate resource ID %s", res.ID)
		}
		table[res.ID] = res
	}
	return &Catalog{resources: table}, nil
}

// PriceOf returns the price descriptor for a resource.
func (c *Catalog) PriceOf(resourceID string) (types.Price, error) {
	res, ok := c.resources[resourceID]
	if !ok {
		return types.Price{}, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return res.Price, nil
}

// PayloadOf returns the gated payload for a resource.
func (c *Catalog) PayloadOf(resourceID string) (map[string]interface{}, error) {
	res, ok := c.resources[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return res.Payload(), nil
}

// Describe returns the full resource entry.
func (c *Catalog) Describe(resourceID string) (Resource, error) {
	res, ok := c.resources[resourceID]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return res, nil
}

// IDs returns the identifiers of all catalog entries.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.resources))
	for id := range c.resources {
		ids = append(ids, id)
	}
	return ids
}
