// Package catalog serves per-merchant catalogs, menus and settings through
// short-lived caches.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/concierge/internal/cache"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// DefaultTTL is how long a merchant's data is served from memory.
const DefaultTTL = time.Minute

// RecordSource lists a merchant's catalog schema and rows.
type RecordSource interface {
	ListFields(ctx context.Context, owner string) ([]domain.Field, error)
	ListRecords(ctx context.Context, owner string) ([]domain.DynamicRecord, error)
}

// TemplateSource lists a merchant's active menus.
type TemplateSource interface {
	ListActiveTemplates(ctx context.Context, owner string) ([]domain.Template, error)
}

// SettingsSource reads a merchant's settings. A source signals "nothing
// stored" with an error wrapping domain.ErrNotFound.
type SettingsSource interface {
	GetSettings(ctx context.Context, owner string) (domain.MerchantSettings, error)
}

// Cache fronts the record, template and settings sources with per-owner
// TTL caches. It satisfies TemplateSource and SettingsSource itself.
type Cache struct {
	records   RecordSource
	templates TemplateSource
	settings  SettingsSource

	catalogs *cache.TTL[domain.Catalog]
	menus    *cache.TTL[[]domain.Template]
	prefs    *cache.TTL[domain.MerchantSettings]
	log      *logging.Logger
}

// NewCache creates a cache over the given sources.
func NewCache(records RecordSource, templates TemplateSource, settings SettingsSource, ttl time.Duration, log *logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		records:   records,
		templates: templates,
		settings:  settings,
		catalogs:  cache.New[domain.Catalog](ttl),
		menus:     cache.New[[]domain.Template](ttl),
		prefs:     cache.New[domain.MerchantSettings](ttl),
		log:       log.Sub("catalog"),
	}
}

// Catalog returns the merchant's fields and records.
func (c *Cache) Catalog(ctx context.Context, owner string) (domain.Catalog, error) {
	if cat, ok := c.catalogs.Get(owner, ""); ok {
		return cat, nil
	}
	fields, err := c.records.ListFields(ctx, owner)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("loading fields for %s: %w", owner, err)
	}
	records, err := c.records.ListRecords(ctx, owner)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("loading records for %s: %w", owner, err)
	}
	cat := domain.Catalog{Fields: fields, Records: records}
	c.catalogs.Set(owner, "", cat)
	c.log.Debug().Str("owner", owner).Int("records", len(records)).Msg("catalog loaded")
	return cat, nil
}

// ListActiveTemplates returns the merchant's active menus.
func (c *Cache) ListActiveTemplates(ctx context.Context, owner string) ([]domain.Template, error) {
	if t, ok := c.menus.Get(owner, ""); ok {
		return t, nil
	}
	t, err := c.templates.ListActiveTemplates(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading templates for %s: %w", owner, err)
	}
	c.menus.Set(owner, "", t)
	return t, nil
}

// GetSettings returns the merchant's settings, or defaults when none are
// stored or the source fails. Failures are returned alongside the defaults
// and are not cached.
func (c *Cache) GetSettings(ctx context.Context, owner string) (domain.MerchantSettings, error) {
	if s, ok := c.prefs.Get(owner, ""); ok {
		return s, nil
	}
	s, err := c.settings.GetSettings(ctx, owner)
	if err != nil && !isNotFound(err) {
		return domain.DefaultSettings(), fmt.Errorf("loading settings for %s: %w", owner, err)
	}
	if err != nil {
		s = domain.DefaultSettings()
	}
	s = s.WithDefaults()
	c.prefs.Set(owner, "", s)
	return s, nil
}

// InvalidateOwner drops everything cached for a merchant.
func (c *Cache) InvalidateOwner(owner string) {
	n := c.catalogs.InvalidateOwner(owner) + c.menus.InvalidateOwner(owner) + c.prefs.InvalidateOwner(owner)
	if n > 0 {
		c.log.Debug().Str("owner", owner).Int("entries", n).Msg("cache invalidated")
	}
}

// Sweep drops expired entries.
func (c *Cache) Sweep() int {
	return c.catalogs.Sweep() + c.menus.Sweep() + c.prefs.Sweep()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
