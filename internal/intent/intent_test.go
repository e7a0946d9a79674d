package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"سعر X", Price},
		{"بكم الجوال؟", Price},
		{"How much is the blue shirt", Price},
		{"هل الساعة متوفرة", Availability},
		{"is it in stock?", Availability},
		{"أبي مواصفات اللابتوب", Description},
		{"tell me about the watch", Description},
		{"ايش عندكم", Inventory},
		{"show me your products", Inventory},
		{"where are you located?", GenericQuestion},
		{"كيف الحال", GenericQuestion},
		{"مرحبا", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestFieldScoped(t *testing.T) {
	assert.True(t, Price.FieldScoped())
	assert.True(t, Inventory.FieldScoped())
	assert.False(t, GenericQuestion.FieldScoped())
	assert.False(t, Unknown.FieldScoped())
}

func TestStripKeywords(t *testing.T) {
	assert.Equal(t, []string{"x"}, StripKeywords("سعر X"))
	assert.Equal(t, []string{"جوال", "ازرق"}, StripKeywords("كم سعر الجوال الأزرق"))
	assert.Equal(t, []string{"watch"}, StripKeywords("tell me about the watch"))
	assert.Empty(t, StripKeywords("price?"))
}
