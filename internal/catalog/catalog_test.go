package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

type fakeSource struct {
	fieldCalls, recordCalls, templateCalls, settingsCalls int

	settings    *domain.MerchantSettings
	settingsErr error
	recordsErr  error
}

func (f *fakeSource) ListFields(_ context.Context, _ string) ([]domain.Field, error) {
	f.fieldCalls++
	return []domain.Field{{Name: "name", Type: domain.FieldText}}, nil
}

func (f *fakeSource) ListRecords(_ context.Context, owner string) ([]domain.DynamicRecord, error) {
	f.recordCalls++
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	return []domain.DynamicRecord{{ID: owner + "-r1"}}, nil
}

func (f *fakeSource) ListActiveTemplates(_ context.Context, _ string) ([]domain.Template, error) {
	f.templateCalls++
	return []domain.Template{{ID: 1, Name: "main", Active: true}}, nil
}

func (f *fakeSource) GetSettings(_ context.Context, _ string) (domain.MerchantSettings, error) {
	f.settingsCalls++
	if f.settingsErr != nil {
		return domain.MerchantSettings{}, f.settingsErr
	}
	if f.settings == nil {
		return domain.MerchantSettings{}, fmt.Errorf("settings: %w", domain.ErrNotFound)
	}
	return *f.settings, nil
}

func newTestCache(src *fakeSource) *Cache {
	return NewCache(src, src, src, time.Minute, logging.New(nil, "silent"))
}

// --- Catalog ---

func TestCache_CatalogIsCachedPerOwner(t *testing.T) {
	src := &fakeSource{}
	c := newTestCache(src)
	ctx := context.Background()

	cat, err := c.Catalog(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, cat.Records, 1)
	assert.Equal(t, "shop-1-r1", cat.Records[0].ID)

	_, err = c.Catalog(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.recordCalls)

	_, err = c.Catalog(ctx, "shop-2")
	require.NoError(t, err)
	assert.Equal(t, 2, src.recordCalls)

	c.InvalidateOwner("shop-1")
	_, err = c.Catalog(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 3, src.recordCalls)
}

func TestCache_CatalogErrorNotCached(t *testing.T) {
	src := &fakeSource{recordsErr: errors.New("db down")}
	c := newTestCache(src)

	_, err := c.Catalog(context.Background(), "shop-1")
	require.Error(t, err)

	src.recordsErr = nil
	cat, err := c.Catalog(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.False(t, cat.Empty())
}

// --- Templates ---

func TestCache_Templates(t *testing.T) {
	src := &fakeSource{}
	c := newTestCache(src)

	for i := 0; i < 3; i++ {
		list, err := c.ListActiveTemplates(context.Background(), "shop-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	}
	assert.Equal(t, 1, src.templateCalls)
}

// --- Settings ---

func TestCache_SettingsDefaultsWhenMissing(t *testing.T) {
	src := &fakeSource{}
	c := newTestCache(src)

	s, err := c.GetSettings(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)
}

func TestCache_SettingsAppliesDefaults(t *testing.T) {
	src := &fakeSource{settings: &domain.MerchantSettings{BusinessName: "Acme"}}
	c := newTestCache(src)

	s, err := c.GetSettings(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", s.BusinessName)
	assert.Equal(t, "Assistant", s.BotName)

	_, _ = c.GetSettings(context.Background(), "shop-1")
	assert.Equal(t, 1, src.settingsCalls)
}

func TestCache_SettingsFailureNotCached(t *testing.T) {
	src := &fakeSource{settingsErr: errors.New("boom")}
	c := newTestCache(src)

	s, err := c.GetSettings(context.Background(), "shop-1")
	require.Error(t, err)
	assert.Equal(t, domain.DefaultSettings(), s)

	_, _ = c.GetSettings(context.Background(), "shop-1")
	assert.Equal(t, 2, src.settingsCalls)
}

func TestCache_Sweep(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, src, src, time.Nanosecond, logging.New(nil, "silent"))
	_, _ = c.Catalog(context.Background(), "shop-1")
	_, _ = c.ListActiveTemplates(context.Background(), "shop-1")
	time.Sleep(time.Millisecond)
	assert.Equal(t, 2, c.Sweep())
}

// --- Postgres ---

func TestDecodeRow(t *testing.T) {
	got, err := decodeRow([]byte(`{"name":"X","price":100,"in_stock":true,"note":null,"tags":["a"]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":     "X",
		"price":    "100",
		"in_stock": "true",
		"note":     "",
		"tags":     `["a"]`,
	}, got)

	_, err = decodeRow([]byte(`not json`))
	assert.Error(t, err)
}

func TestPostgresSource_Live(t *testing.T) {
	dsn := os.Getenv("CONCIERGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONCIERGE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	src, err := OpenPostgres(ctx, dsn, logging.New(nil, "silent"))
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ListRecords(ctx, "concierge-test-owner")
	require.NoError(t, err)
}
