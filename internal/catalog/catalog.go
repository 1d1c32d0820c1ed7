// Package catalog is the typed read surface over the replicated
// reference data. The sell screen and the calculation engine read
// through it instead of touching raw documents.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/engine"
	"github.com/lanesync/lanesync/internal/entity"
)

// Catalog decodes repository documents into entity structs. All reads
// observe canonical documents only; pending shadows stay invisible
// until the activity gate releases and they are folded in.
type Catalog struct {
	items      *engine.Repository
	categories *engine.Repository
	taxRates   *engine.Repository
	discounts  *engine.Repository
}

// New builds the facade from an engine's repositories.
func New(e *engine.Engine) (*Catalog, error) {
	c := &Catalog{
		items:      e.Repository(entity.TypeItem),
		categories: e.Repository(entity.TypeCategory),
		taxRates:   e.Repository(entity.TypeTaxRate),
		discounts:  e.Repository(entity.TypeDiscount),
	}
	if c.items == nil || c.categories == nil || c.taxRates == nil || c.discounts == nil {
		return nil, fmt.Errorf("engine is missing a reference repository")
	}
	return c, nil
}

// GetItem returns one catalog item by ID.
func (c *Catalog) GetItem(ctx context.Context, id string) (*entity.Item, error) {
	body, err := c.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var item entity.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", id, err)
	}
	return &item, nil
}

// ItemByBarcode resolves a scanned barcode to an item. Returns
// docstore.ErrNotFound when no item carries the code.
func (c *Catalog) ItemByBarcode(ctx context.Context, barcode string) (*entity.Item, error) {
	docs, err := c.items.FindByField(ctx, "barcode", barcode)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNotFound
	}
	var item entity.Item
	if err := json.Unmarshal(docs[0].Body, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item for barcode %s: %w", barcode, err)
	}
	return &item, nil
}

// ItemsByCategory lists the items in one category, sorted by name.
func (c *Catalog) ItemsByCategory(ctx context.Context, categoryID string) ([]entity.Item, error) {
	docs, err := c.items.FindByField(ctx, "category_id", categoryID)
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(docs)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// SearchItems matches the needle against item names, case insensitive.
func (c *Catalog) SearchItems(ctx context.Context, needle string) ([]entity.Item, error) {
	docs, err := c.items.SearchText(ctx, "name", needle)
	if err != nil {
		return nil, err
	}
	return decodeItems(docs)
}

// Categories lists every category in sort order.
func (c *Catalog) Categories(ctx context.Context) ([]entity.Category, error) {
	docs, err := c.categories.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Category, 0, len(docs))
	for _, doc := range docs {
		var cat entity.Category
		if err := json.Unmarshal(doc.Body, &cat); err != nil {
			return nil, fmt.Errorf("failed to decode category %s: %w", doc.Key.ID, err)
		}
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// TaxRate returns one tax rate by ID.
func (c *Catalog) TaxRate(ctx context.Context, id string) (*entity.TaxRate, error) {
	body, err := c.taxRates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var rate entity.TaxRate
	if err := json.Unmarshal(body, &rate); err != nil {
		return nil, fmt.Errorf("failed to decode tax rate %s: %w", id, err)
	}
	return &rate, nil
}

// Discounts lists every active discount.
func (c *Catalog) Discounts(ctx context.Context) ([]entity.Discount, error) {
	docs, err := c.discounts.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Discount, 0, len(docs))
	for _, doc := range docs {
		var d entity.Discount
		if err := json.Unmarshal(doc.Body, &d); err != nil {
			return nil, fmt.Errorf("failed to decode discount %s: %w", doc.Key.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Counts reports document counts per reference collection, for the
// status display.
func (c *Catalog) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 4)
	for _, repo := range []*engine.Repository{c.items, c.categories, c.taxRates, c.discounts} {
		n, err := repo.Count(ctx)
		if err != nil {
			return nil, err
		}
		out[repo.Collection()] = n
	}
	return out, nil
}

func decodeItems(docs []docstore.Document) ([]entity.Item, error) {
	items := make([]entity.Item, 0, len(docs))
	for _, doc := range docs {
		var item entity.Item
		if err := json.Unmarshal(doc.Body, &item); err != nil {
			return nil, fmt.Errorf("failed to decode item %s: %w", doc.Key.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}
