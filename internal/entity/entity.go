// Package entity defines the records replicated from the back office and
// the locally authored records queued for transmission.
//
// Reference entities (items, categories, tax rates, discounts) are owned
// by the remote system of record and mirrored read-only into the local
// document store. Transactions are authored locally and owned by the
// terminal until the remote system acknowledges receipt.
package entity

import (
	"fmt"
	"time"
)

// Entity type tags as they appear in change notifications and gateway
// paths. The engine's dispatch registry is keyed by these.
const (
	TypeItem        = "item"
	TypeCategory    = "category"
	TypeTaxRate     = "tax_rate"
	TypeDiscount    = "discount"
	TypeTransaction = "transaction"
)

// Collection names in the document store, one per entity type.
const (
	CollectionItems      = "items"
	CollectionCategories = "categories"
	CollectionTaxRates   = "tax_rates"
	CollectionDiscounts  = "discounts"
	CollectionOutbound   = "outbound_transactions"
	CollectionDevice     = "device"
)

// Item is a sellable catalog entry.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SKU          string    `json:"sku,omitempty"`
	Barcode      string    `json:"barcode,omitempty"`
	CategoryID   string    `json:"category_id,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	TaxRateID    string    `json:"tax_rate_id,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	ImageData    string    `json:"image_data,omitempty"` // base64 thumbnail, fetched separately
	SoldByWeight bool      `json:"sold_by_weight,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the Item has the fields the sell screen depends on.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	if i.PriceCents < 0 {
		return fmt.Errorf("price_cents must not be negative (got %d)", i.PriceCents)
	}
	return nil
}

// Category groups items for the sell screen layout.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	SortOrder int       `json:"sort_order,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required Category fields.
func (c *Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// TaxRate is a named percentage applied by the calculation engine.
type TaxRate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RateBasisPoints int       `json:"rate_basis_points"` // 825 = 8.25%
	Inclusive       bool      `json:"inclusive,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks required TaxRate fields.
func (t *TaxRate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.RateBasisPoints < 0 {
		return fmt.Errorf("rate_basis_points must not be negative (got %d)", t.RateBasisPoints)
	}
	return nil
}

// Discount is a promotion the cashier can apply to a line or a sale.
type Discount struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Percent     int       `json:"percent,omitempty"`      // whole-sale percentage
	AmountCents int64     `json:"amount_cents,omitempty"` // or a fixed amount
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks required Discount fields.
func (d *Discount) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Percent < 0 || d.Percent > 100 {
		return fmt.Errorf("percent must be between 0 and 100 (got %d)", d.Percent)
	}
	return nil
}
