// Package catalog maps platform-specific SKUs to logical product ids and
// logical products to tiers. Pure lookup over static reference data; an
// unmapped SKU is a recoverable condition, never a rejected webhook.
package catalog

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// ErrUnknownProduct is returned when no mapping exists for a (store, sku)
// pair. Callers must treat the observation as unclassified rather than
// rejecting it - most platforms will not retry a rejected webhook correctly
// and the data would be lost.
var ErrUnknownProduct = errors.New("catalog: unknown product")

type mappingKey struct {
	store domain.Store
	sku   string
}

// Mapper resolves store SKUs to logical products. Safe for unsynchronized
// concurrent reads after construction.
type Mapper struct {
	mappings map[mappingKey]string
	tiers    map[string]domain.Tier
	products map[domain.Tier]string
}

// entry is the config-file shape of one SKU mapping.
type entry struct {
	Store   string `mapstructure:"store"`
	SKU     string `mapstructure:"sku"`
	Product string `mapstructure:"product"`
	Tier    string `mapstructure:"tier"`
}

// defaultEntries is the compiled-in catalog, used when no config file
// overrides it. SKU naming follows each store's conventions.
var defaultEntries = []entry{
	{Store: "card_provider", SKU: "price_everreach_core_monthly", Product: "everreach.core", Tier: "core"},
	{Store: "card_provider", SKU: "price_everreach_core_annual", Product: "everreach.core", Tier: "core"},
	{Store: "card_provider", SKU: "price_everreach_pro_monthly", Product: "everreach.pro", Tier: "pro"},
	{Store: "card_provider", SKU: "price_everreach_pro_annual", Product: "everreach.pro", Tier: "pro"},
	{Store: "card_provider", SKU: "price_everreach_team_monthly", Product: "everreach.team", Tier: "team"},
	{Store: "app_store", SKU: "com.everreach.sub.core.monthly", Product: "everreach.core", Tier: "core"},
	{Store: "app_store", SKU: "com.everreach.sub.pro.monthly", Product: "everreach.pro", Tier: "pro"},
	{Store: "app_store", SKU: "com.everreach.sub.pro.annual", Product: "everreach.pro", Tier: "pro"},
	{Store: "play_store", SKU: "everreach_core_monthly", Product: "everreach.core", Tier: "core"},
	{Store: "play_store", SKU: "everreach_pro_monthly", Product: "everreach.pro", Tier: "pro"},
	{Store: "play_store", SKU: "everreach_pro_annual", Product: "everreach.pro", Tier: "pro"},
}

// New builds a Mapper from the compiled-in defaults.
func New() *Mapper {
	m, _ := build(defaultEntries)
	return m
}

// Load builds a Mapper from a viper config file (key "catalog"), falling
// back to the compiled-in defaults when the file has no catalog section.
func Load(v *viper.Viper) (*Mapper, error) {
	if v == nil || !v.IsSet("catalog") {
		return New(), nil
	}

	var entries []entry
	if err := v.UnmarshalKey("catalog", &entries); err != nil {
		return nil, fmt.Errorf("catalog: unmarshal config: %w", err)
	}
	if len(entries) == 0 {
		return New(), nil
	}

	return build(entries)
}

func build(entries []entry) (*Mapper, error) {
	m := &Mapper{
		mappings: make(map[mappingKey]string, len(entries)),
		tiers:    make(map[string]domain.Tier, len(entries)),
		products: make(map[domain.Tier]string),
	}

	for _, e := range entries {
		store := domain.Store(e.Store)
		if !store.Valid() {
			return nil, fmt.Errorf("catalog: unknown store %q for sku %q", e.Store, e.SKU)
		}
		tier := domain.Tier(e.Tier)
		if !tier.Valid() {
			return nil, fmt.Errorf("catalog: unknown tier %q for product %q", e.Tier, e.Product)
		}

		m.mappings[mappingKey{store: store, sku: e.SKU}] = e.Product

		if existing, ok := m.tiers[e.Product]; ok && existing != tier {
			return nil, fmt.Errorf("catalog: product %q mapped to both %q and %q", e.Product, existing, tier)
		}
		m.tiers[e.Product] = tier

		if _, ok := m.products[tier]; !ok {
			m.products[tier] = e.Product
		}
	}

	return m, nil
}

// ProductForTier returns a logical product granting the tier. Used when a
// source reports a tier instead of a SKU, as the aggregator sync does.
func (m *Mapper) ProductForTier(t domain.Tier) (string, bool) {
	product, ok := m.products[t]
	return product, ok
}

// Resolve maps a store-specific SKU to a logical product id.
// Returns ErrUnknownProduct when no mapping exists.
func (m *Mapper) Resolve(store domain.Store, storeSKU string) (string, error) {
	if product, ok := m.mappings[mappingKey{store: store, sku: storeSKU}]; ok {
		return product, nil
	}
	return "", ErrUnknownProduct
}

// TierFor returns the tier a logical product grants. Unclassified or unknown
// products contribute no tier.
func (m *Mapper) TierFor(logicalProductID string) (domain.Tier, bool) {
	tier, ok := m.tiers[logicalProductID]
	return tier, ok
}
