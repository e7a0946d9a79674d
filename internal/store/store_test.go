package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	n, err := db.migrate()
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"messages", "catalog_fields", "catalog_records", "templates", "template_buttons", "merchant_settings"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/concierge.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

// --- Message log ---

func msg(session string, dir domain.Direction, content string) domain.Message {
	return domain.Message{
		Owner:        "shop-1",
		Channel:      domain.ChannelTelegram,
		Counterparty: "42",
		SessionID:    session,
		Direction:    dir,
		Content:      content,
		Source:       domain.SourceInbound,
	}
}

func TestMessages_AppendAndRecent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Append(ctx, msg("s1", domain.DirectionIncoming, "hello")))
	require.NoError(t, db.Append(ctx, msg("s1", domain.DirectionOutgoing, "hi there")))
	require.NoError(t, db.Append(ctx, msg("s2", domain.DirectionIncoming, "new window")))

	got, err := db.Recent(ctx, "shop-1", "42", "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content, "oldest first")
	assert.Equal(t, "hi there", got[1].Content)
	assert.Equal(t, domain.DirectionOutgoing, got[1].Direction)
	assert.Equal(t, domain.ChannelTelegram, got[0].Channel)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	all, err := db.Recent(ctx, "shop-1", "42", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMessages_RecentLimitKeepsNewest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three", "four"} {
		require.NoError(t, db.Append(ctx, msg("s1", domain.DirectionIncoming, c)))
	}
	got, err := db.Recent(ctx, "shop-1", "42", "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "three", got[0].Content)
	assert.Equal(t, "four", got[1].Content)
}

func TestMessages_LatestSession(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, _, err := db.LatestSession(ctx, "shop-1", "42")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := msg("s9", domain.DirectionIncoming, "x")
	m.Timestamp = at
	require.NoError(t, db.Append(ctx, m))

	id, ts, err := db.LatestSession(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Equal(t, "s9", id)
	assert.True(t, at.Equal(ts))

	n, err := db.CountMessages(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// --- Catalog ---

func TestCatalog_FieldsAndRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	fields := []domain.Field{
		{Name: "name", Type: domain.FieldText, Position: 0},
		{Name: "price", Type: domain.FieldNumber, Position: 1},
	}
	for _, f := range fields {
		require.NoError(t, db.PutField(ctx, "shop-1", f))
	}
	rec := domain.BuildRecord("r1", 0, fields, map[string]string{"name": "X", "price": "100"})
	require.NoError(t, db.PutRecord(ctx, "shop-1", rec))

	gotFields, err := db.ListFields(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, fields, gotFields)

	records, err := db.ListRecords(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	price, ok := records[0].Get("Price")
	require.True(t, ok)
	assert.Equal(t, "100", price.String())

	other, err := db.ListRecords(ctx, "shop-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, db.ClearCatalog(ctx, "shop-1"))
	records, err = db.ListRecords(ctx, "shop-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCatalog_PutRecordUpserts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	fields := []domain.Field{{Name: "name", Type: domain.FieldText}}

	require.NoError(t, db.PutRecord(ctx, "shop-1", domain.BuildRecord("r1", 0, fields, map[string]string{"name": "old"})))
	require.NoError(t, db.PutRecord(ctx, "shop-1", domain.BuildRecord("r1", 0, fields, map[string]string{"name": "new"})))

	records, err := db.ListRecords(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	v, _ := records[0].Get("name")
	assert.Equal(t, "new", v.String())
}

// --- Templates ---

func sampleTemplate() domain.Template {
	return domain.Template{
		Name:     "main",
		Triggers: []string{"menu", "قائمة"},
		Header:   "Welcome!",
		Body:     "Choose an option:",
		Active:   true,
		Buttons: []domain.Button{
			{ID: 1, Type: domain.ButtonURL, Text: "Shop", Payload: "https://shop.example", Position: 1},
			{ID: 2, Type: domain.ButtonNested, Text: "Support", Position: 2},
			{ID: 3, ParentID: 2, Type: domain.ButtonPhoneNumber, Text: "Call", Payload: "+966500000000"},
		},
	}
}

func TestTemplates_SaveAndList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.SaveTemplate(ctx, "shop-1", sampleTemplate())
	require.NoError(t, err)
	assert.NotZero(t, id)

	inactive := sampleTemplate()
	inactive.Name = "hidden"
	inactive.Active = false
	_, err = db.SaveTemplate(ctx, "shop-1", inactive)
	require.NoError(t, err)

	list, err := db.ListActiveTemplates(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	tpl := list[0]
	assert.Equal(t, "main", tpl.Name)
	assert.Equal(t, []string{"menu", "قائمة"}, tpl.Triggers)
	require.Len(t, tpl.Buttons, 3)
	roots := tpl.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "Shop", roots[0].Text)
	assert.Len(t, tpl.Children(2), 1)
}

func TestTemplates_SaveReplacesByName(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.SaveTemplate(ctx, "shop-1", sampleTemplate())
	require.NoError(t, err)
	updated := sampleTemplate()
	updated.Body = "Updated"
	updated.Buttons = updated.Buttons[:1]
	_, err = db.SaveTemplate(ctx, "shop-1", updated)
	require.NoError(t, err)

	list, err := db.ListActiveTemplates(ctx, "shop-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Updated", list[0].Body)
	assert.Len(t, list[0].Buttons, 1)
}

func TestTemplates_RejectsInvalidTree(t *testing.T) {
	db := testDB(t)
	bad := sampleTemplate()
	bad.Buttons = append(bad.Buttons, domain.Button{ID: 4, ParentID: 99, Type: domain.ButtonReply, Text: "orphan"})

	_, err := db.SaveTemplate(context.Background(), "shop-1", bad)
	assert.ErrorIs(t, err, domain.ErrInvalidTemplate)
}

// --- Settings ---

func TestSettings_RoundTripWithDefaults(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	s, err := db.GetSettings(ctx, "shop-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, domain.DefaultSettings(), s)

	require.NoError(t, db.SaveSettings(ctx, "shop-1", domain.MerchantSettings{
		BusinessName: "Acme",
		PurchaseLink: "https://acme.example/buy",
		Paused:       true,
	}))

	s, err = db.GetSettings(ctx, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", s.BusinessName)
	assert.True(t, s.Paused)
	assert.Equal(t, "Assistant", s.BotName, "defaults fill unset fields")
	assert.Equal(t, 300, s.MaxTokens)

	owners, err := db.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-1"}, owners)
}
