package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Key tests ---

func TestSessionKeyString(t *testing.T) {
	key := SessionKey{Owner: "shop-1", Channel: ChannelTelegram}
	assert.Equal(t, "shop-1:telegram", key.String())
}

func TestConversationKeyString(t *testing.T) {
	key := ConversationKey{Owner: "shop-1", Channel: ChannelWebChat, Counterparty: "v-9"}
	assert.Equal(t, "shop-1:webchat:v-9", key.String())
	assert.Equal(t, SessionKey{Owner: "shop-1", Channel: ChannelWebChat}, key.Session())
}

func TestParseChannelKind(t *testing.T) {
	k, ok := ParseChannelKind("irc")
	assert.True(t, ok)
	assert.Equal(t, ChannelIRC, k)

	_, ok = ParseChannelKind("fax")
	assert.False(t, ok)
}

// --- Record tests ---

func TestInferFieldType(t *testing.T) {
	tests := []struct {
		name    string
		samples []string
		want    FieldType
	}{
		{"number", []string{"", " ", "1,200"}, FieldNumber},
		{"boolean", []string{"yes", "12"}, FieldBoolean},
		{"arabic boolean", []string{"نعم"}, FieldBoolean},
		{"date", []string{"2024-05-01"}, FieldDate},
		{"text", []string{"Blue shirt", "12"}, FieldText},
		{"all empty", []string{"", ""}, FieldText},
		{"infinity is text", []string{"Inf"}, FieldText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferFieldType(tt.samples))
		})
	}
}

func TestParseValue_DegradesToText(t *testing.T) {
	v := ParseValue(FieldNumber, "call us")
	assert.Equal(t, FieldText, v.Type)
	assert.Equal(t, "call us", v.String())

	v = ParseValue(FieldNumber, "100")
	assert.Equal(t, FieldNumber, v.Type)
	assert.Equal(t, "100", v.String())
}

func TestInferSchemaAndBuildRecord(t *testing.T) {
	rows := []map[string]string{
		{"name": "X", "price": "100"},
		{"name": "Y", "price": "", "color": "red"},
	}
	fields := InferSchema([]Field{{Name: "name"}, {Name: "price"}}, rows)
	require.Len(t, fields, 3)
	assert.Equal(t, FieldText, fields[0].Type)
	assert.Equal(t, FieldNumber, fields[1].Type)
	assert.Equal(t, "color", fields[2].Name)

	rec := BuildRecord("r1", 0, fields, rows[1])
	v, ok := rec.Get("PRICE")
	assert.True(t, ok)
	assert.True(t, v.IsEmpty())
	assert.Len(t, rec.NonEmpty(), 2)
}

// --- Template tests ---

func testTemplate() Template {
	return Template{
		Name:     "main",
		Triggers: []string{"menu"},
		Active:   true,
		Buttons: []Button{
			{ID: 3, Type: ButtonReply, Text: "third", Position: 2},
			{ID: 1, Type: ButtonURL, Text: "first", Payload: "https://example.com", Position: 0},
			{ID: 2, Type: ButtonNested, Text: "second", Position: 1},
			{ID: 4, ParentID: 2, Type: ButtonReply, Text: "child"},
		},
	}
}

func TestTemplate_RootsAndChildren(t *testing.T) {
	tpl := testTemplate()
	roots := tpl.Roots()
	require.Len(t, roots, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{roots[0].Text, roots[1].Text, roots[2].Text})

	children := tpl.Children(2)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].Text)
	assert.Equal(t, 2, tpl.Depth(4))
}

func TestTemplate_ValidateTree(t *testing.T) {
	require.NoError(t, testTemplate().ValidateTree())

	cyclic := testTemplate()
	cyclic.Buttons = []Button{
		{ID: 1, ParentID: 2, Type: ButtonNested, Text: "a"},
		{ID: 2, ParentID: 1, Type: ButtonNested, Text: "b"},
	}
	assert.True(t, errors.Is(cyclic.ValidateTree(), ErrInvalidTemplate))

	orphan := testTemplate()
	orphan.Buttons = append(orphan.Buttons, Button{ID: 9, ParentID: 42, Text: "lost"})
	assert.ErrorIs(t, orphan.ValidateTree(), ErrInvalidTemplate)

	deep := testTemplate()
	deep.Buttons = []Button{
		{ID: 1, Type: ButtonNested, Text: "l1"},
		{ID: 2, ParentID: 1, Type: ButtonNested, Text: "l2"},
		{ID: 3, ParentID: 2, Type: ButtonNested, Text: "l3"},
		{ID: 4, ParentID: 3, Type: ButtonReply, Text: "l4"},
	}
	assert.ErrorIs(t, deep.ValidateTree(), ErrInvalidTemplate)
}

// --- Settings tests ---

func TestWorkingHours_Open(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	w := WorkingHours{Enabled: true, Start: "09:00", End: "17:00"}
	assert.True(t, w.Open(at(9, 0)))
	assert.True(t, w.Open(at(16, 59)))
	assert.False(t, w.Open(at(17, 0)))
	assert.False(t, w.Open(at(3, 0)))

	night := WorkingHours{Enabled: true, Start: "22:00", End: "02:00"}
	assert.True(t, night.Open(at(23, 0)))
	assert.True(t, night.Open(at(1, 30)))
	assert.False(t, night.Open(at(12, 0)))

	weekdays := WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Days: []int{0, 1, 2}}
	assert.False(t, weekdays.Open(at(10, 0)))

	assert.True(t, WorkingHours{}.Open(at(3, 0)))
}

func TestMerchantSettings_Defaults(t *testing.T) {
	s := MerchantSettings{BusinessName: "Acme"}.WithDefaults()
	assert.Equal(t, "Assistant", s.BotName)
	assert.Equal(t, 300, s.MaxTokens)
	assert.Equal(t, 0.7, s.TemperatureOr(0.7))
	assert.Equal(t, DefaultFallbackMessage, s.Fallback())
	assert.Equal(t, "Acme", s.Display())
}
