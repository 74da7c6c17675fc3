package product

import (
	"strings"
	"time"

	"malricpharma/internal/core"

	"github.com/shopspring/decimal"
)

// Product is the catalog record an order line is priced from.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Validate checks the fields an admin must supply.
func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)
	p.ImageURL = strings.TrimSpace(p.ImageURL)

	var missing []string
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Description == "" {
		missing = append(missing, "description")
	}
	if p.Category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return core.Validation(core.CodeInvalidProduct, "name, description and category are required").
			WithDetails(map[string]any{"missing": missing})
	}
	if !p.Price.IsPositive() {
		return core.Validation(core.CodeInvalidProduct, "price must be a positive amount")
	}
	if !p.Price.Equal(p.Price.Round(2)) {
		return core.Validation(core.CodeInvalidProduct, "price has more than two decimal places")
	}
	return nil
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	ImageURL    *string          `json:"imageUrl,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

// Apply copies the set fields onto p and validates the result.
func (pt Patch) Apply(p *Product) error {
	if pt.Name != nil {
		p.Name = *pt.Name
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.Category != nil {
		p.Category = *pt.Category
	}
	if pt.ImageURL != nil {
		p.ImageURL = *pt.ImageURL
	}
	if pt.Price != nil {
		p.Price = *pt.Price
	}
	return p.Validate()
}
