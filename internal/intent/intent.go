// Package intent classifies customer questions into coarse keyword families.
package intent

import (
	"strings"

	"github.com/soyeahso/concierge/internal/textnorm"
)

// Intent is the coarse purpose of a customer message.
type Intent string

const (
	Price           Intent = "price"
	Description     Intent = "description"
	Availability    Intent = "availability"
	Inventory       Intent = "inventory"
	GenericQuestion Intent = "generic_question"
	Unknown         Intent = "unknown"
)

// FieldScoped reports whether the intent is answered from a single record field
// or the record listing.
func (i Intent) FieldScoped() bool {
	switch i {
	case Price, Description, Availability, Inventory:
		return true
	}
	return false
}

type family struct {
	intent  Intent
	words   map[string]bool
	phrases []string
}

// Families are checked in order; the first hit wins.
var families = []family{
	newFamily(Price,
		"سعر", "اسعار", "بكم", "ثمن", "تكلفة", "تكلفه", "كلفة", "قيمة",
		"price", "prices", "cost", "costs", "priced",
		"how much", "كم سعر", "كم يكلف", "كم ثمن",
	),
	newFamily(Availability,
		"متوفر", "متوفرة", "متوفره", "موجود", "موجودة", "متاح", "متاحة", "توفر", "المخزون",
		"available", "availability", "stock", "instock",
		"in stock", "عندكم منه",
	),
	newFamily(Description,
		"وصف", "مواصفات", "تفاصيل", "معلومات", "مميزات", "خصائص",
		"describe", "description", "details", "detail", "specs", "specifications", "features",
		"tell me about", "what is",
	),
	newFamily(Inventory,
		"منتجات", "منتجاتكم", "المنتجات", "قائمة", "كتالوج", "الكتالوج",
		"products", "catalog", "catalogue", "menu", "inventory", "items",
		"what do you sell", "what do you have", "ايش عندكم", "وش عندكم", "شو عندكم", "ماذا لديكم", "ايش تبيعون",
	),
}

var questionWords = toWordSet(
	"هل", "كيف", "متى", "وين", "اين", "لماذا", "ليش", "ماذا", "ايش", "وش", "شو", "كم", "مين", "من",
	"what", "how", "when", "where", "why", "who", "which", "can", "could", "do", "does", "is", "are",
)

func newFamily(i Intent, keywords ...string) family {
	f := family{intent: i, words: make(map[string]bool)}
	for _, k := range keywords {
		n := textnorm.Normalize(k)
		if strings.Contains(n, " ") {
			f.phrases = append(f.phrases, n)
			continue
		}
		f.words[n] = true
		f.words[textnorm.Stem(n)] = true
	}
	return f
}

func toWordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[textnorm.Normalize(w)] = true
	}
	return m
}

func (f family) matches(norm string, words []string) bool {
	for _, w := range words {
		if f.words[w] || f.words[textnorm.Stem(w)] {
			return true
		}
	}
	for _, p := range f.phrases {
		if textnorm.ContainsPhrase(norm, p) {
			return true
		}
	}
	return false
}

// Classify returns the intent of a free-text message.
func Classify(text string) Intent {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return Unknown
	}
	words := strings.Fields(norm)
	for _, f := range families {
		if f.matches(norm, words) {
			return f.intent
		}
	}
	if strings.ContainsAny(text, "?؟") || questionWords[words[0]] {
		return GenericQuestion
	}
	return Unknown
}

// StripKeywords returns the content tokens of text with every intent
// keyword removed, leaving what names the product.
func StripKeywords(text string) []string {
	norm := textnorm.Normalize(text)
	for _, f := range families {
		for _, p := range f.phrases {
			norm = strings.ReplaceAll(" "+norm+" ", " "+p+" ", " ")
		}
	}
	tokens := textnorm.Tokens(norm)
	out := tokens[:0]
	for _, t := range tokens {
		if isKeyword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isKeyword(w string) bool {
	for _, f := range families {
		if f.words[w] {
			return true
		}
	}
	return false
}
