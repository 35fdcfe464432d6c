package entitlement

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BillingPeriod is the renewal cadence encoded in a product identifier.
type BillingPeriod string

const (
	BillingPeriodUnknown BillingPeriod = ""
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Catalog maps App Store product identifiers to entitlement tiers. Unknown
// product IDs fall back to substring matching so new store listings that
// follow the naming convention resolve without a deploy.
type Catalog struct {
	products map[string]Tier
}

// NewCatalog creates a catalog from an explicit product-to-tier mapping.
func NewCatalog(products map[string]Tier) *Catalog {
	m := make(map[string]Tier, len(products))
	for id, tier := range products {
		m[id] = tier
	}
	return &Catalog{products: m}
}

type catalogFile struct {
	Products map[string]string `yaml:"products"`
}

// LoadCatalog reads a YAML product catalog of the form:
//
//	products:
//	  com.example.app.subscription.basic.monthly: basic
//	  com.example.app.subscription.premium.yearly: premium
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	products := make(map[string]Tier, len(file.Products))
	for id, raw := range file.Products {
		tier := Tier(raw)
		if tier.Priority() == 0 && tier != TierNone {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("product %s maps to unknown tier %q", id, raw))
		}
		products[id] = tier
	}

	return &Catalog{products: products}, nil
}

// TierFor resolves the tier granted by a product identifier. Exact catalog
// entries win; otherwise the tier name embedded in the product ID decides.
func (c *Catalog) TierFor(productID string) Tier {
	if productID == "" {
		return TierNone
	}
	if c != nil {
		if tier, ok := c.products[productID]; ok {
			return tier
		}
	}

	// Highest tier first so "premium_elite"-style IDs resolve to the
	// stronger entitlement.
	switch {
	case strings.Contains(productID, string(TierElite)):
		return TierElite
	case strings.Contains(productID, string(TierPremium)):
		return TierPremium
	case strings.Contains(productID, string(TierBasic)):
		return TierBasic
	default:
		return TierNone
	}
}

// PeriodFor extracts the billing period from a product identifier.
func (c *Catalog) PeriodFor(productID string) BillingPeriod {
	switch {
	case strings.Contains(productID, "monthly"):
		return BillingPeriodMonthly
	case strings.Contains(productID, "yearly"), strings.Contains(productID, "annual"):
		return BillingPeriodYearly
	default:
		return BillingPeriodUnknown
	}
}
