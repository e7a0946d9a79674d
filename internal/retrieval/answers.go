package retrieval

import (
	"fmt"
	"strings"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/textnorm"
)

type attr string

const (
	attrName        attr = "name"
	attrPrice       attr = "price"
	attrCategory    attr = "category"
	attrBrand       attr = "brand"
	attrDescription attr = "description"
	attrWarranty    attr = "warranty"
	attrStock       attr = "stock"
)

// summaryOrder is the order attributes appear in a record summary.
var summaryOrder = []attr{attrName, attrPrice, attrCategory, attrBrand, attrDescription, attrWarranty, attrStock}

var aliases = buildAliases(map[attr][]string{
	attrName:        {"name", "product", "product name", "title", "item", "model", "الاسم", "اسم", "اسم المنتج", "المنتج", "منتج", "الموديل"},
	attrPrice:       {"price", "cost", "amount", "السعر", "سعر", "الثمن", "ثمن", "التكلفة"},
	attrCategory:    {"category", "type", "section", "الفئة", "فئة", "التصنيف", "القسم", "النوع"},
	attrBrand:       {"brand", "make", "manufacturer", "الماركة", "ماركة", "العلامة التجارية", "الشركة"},
	attrDescription: {"description", "details", "desc", "specs", "الوصف", "وصف", "التفاصيل", "المواصفات"},
	attrWarranty:    {"warranty", "guarantee", "الضمان", "ضمان", "الكفالة"},
	attrStock:       {"stock", "quantity", "qty", "availability", "available", "in stock", "المخزون", "الكمية", "متوفر", "التوفر", "الحالة"},
})

var labels = map[attr][2]string{
	attrName:        {"Name", "الاسم"},
	attrPrice:       {"Price", "السعر"},
	attrCategory:    {"Category", "الفئة"},
	attrBrand:       {"Brand", "الماركة"},
	attrDescription: {"Description", "الوصف"},
	attrWarranty:    {"Warranty", "الضمان"},
	attrStock:       {"Availability", "التوفر"},
}

func buildAliases(m map[attr][]string) map[attr]map[string]bool {
	out := make(map[attr]map[string]bool, len(m))
	for a, names := range m {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[textnorm.Normalize(n)] = true
		}
		out[a] = set
	}
	return out
}

// lookup returns the first non-empty field of rec whose name is an alias of a.
func lookup(rec domain.DynamicRecord, a attr) (domain.FieldValue, bool) {
	set := aliases[a]
	for _, fv := range rec.Values {
		if set[textnorm.Normalize(fv.Name)] && !fv.Value.IsEmpty() {
			return fv, true
		}
	}
	return domain.FieldValue{}, false
}

func label(a attr, ar bool) string {
	if ar {
		return labels[a][1]
	}
	return labels[a][0]
}

// recordName names a record for listings: the name field, else its first
// non-empty text value, else its id.
func recordName(rec domain.DynamicRecord) string {
	if fv, ok := lookup(rec, attrName); ok {
		return fv.Value.String()
	}
	for _, fv := range rec.NonEmpty() {
		if fv.Value.Type == domain.FieldText {
			return fv.Value.String()
		}
	}
	return rec.ID
}

func formatValue(a attr, v domain.Value, ar bool) string {
	if a == attrStock {
		return stockText(v, ar)
	}
	if v.Type == domain.FieldBoolean {
		return yesNo(v.Bool, ar)
	}
	return v.String()
}

func yesNo(b, ar bool) string {
	switch {
	case b && ar:
		return "نعم"
	case b:
		return "yes"
	case ar:
		return "لا"
	default:
		return "no"
	}
}

func stockText(v domain.Value, ar bool) string {
	switch v.Type {
	case domain.FieldBoolean:
		if v.Bool {
			return pick(ar, "in stock", "متوفر")
		}
		return pick(ar, "out of stock", "غير متوفر حالياً")
	case domain.FieldNumber:
		if v.Number > 0 {
			return pick(ar, fmt.Sprintf("in stock (%s available)", v.String()), fmt.Sprintf("متوفر (%s قطعة)", v.String()))
		}
		return pick(ar, "out of stock", "غير متوفر حالياً")
	}
	return v.String()
}

func pick(ar bool, en, arabic string) string {
	if ar {
		return arabic
	}
	return en
}

// summarize renders the aliased attributes of a record. When at most the
// name is aliased, every remaining non-empty field is shown instead.
func summarize(rec domain.DynamicRecord, ar bool) string {
	var lines []string
	used := make(map[string]bool)
	for _, a := range summaryOrder {
		fv, ok := lookup(rec, a)
		if !ok {
			continue
		}
		used[fv.Name] = true
		lines = append(lines, fmt.Sprintf("%s: %s", label(a, ar), formatValue(a, fv.Value, ar)))
	}
	if len(lines) <= 1 {
		for _, fv := range rec.NonEmpty() {
			if used[fv.Name] {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", fv.Name, formatValue("", fv.Value, ar)))
		}
	}
	return strings.Join(lines, "\n")
}

// fuzzyAnswer summarizes the best match and names the others.
func fuzzyAnswer(matches []Match, ar bool) string {
	text := summarize(matches[0].Record, ar)
	if len(matches) > 1 {
		names := make([]string, 0, len(matches)-1)
		for _, m := range matches[1:] {
			names = append(names, recordName(m.Record))
		}
		text += "\n\n" + pick(ar, "Similar items: ", "منتجات مشابهة: ") + strings.Join(names, pick(ar, ", ", "، "))
	}
	return text
}

func fieldAnswer(rec domain.DynamicRecord, a attr, ar bool) string {
	name := recordName(rec)
	fv, ok := lookup(rec, a)

	switch a {
	case attrPrice:
		if !ok {
			return pick(ar, fmt.Sprintf("The price of %s isn't listed yet.", name), fmt.Sprintf("سعر %s غير مدرج حالياً.", name))
		}
		return pick(ar, fmt.Sprintf("The price of %s is %s.", name, fv.Value.String()), fmt.Sprintf("سعر %s: %s", name, fv.Value.String()))
	case attrDescription:
		if !ok {
			return pick(ar, fmt.Sprintf("There's no description listed for %s yet.", name), fmt.Sprintf("لا يوجد وصف مدرج لـ %s حالياً.", name))
		}
		return fmt.Sprintf("%s: %s", name, fv.Value.String())
	case attrStock:
		if !ok {
			return pick(ar, fmt.Sprintf("Availability of %s isn't listed yet.", name), fmt.Sprintf("حالة توفر %s غير مدرجة حالياً.", name))
		}
		return fmt.Sprintf("%s: %s", name, stockText(fv.Value, ar))
	}
	return summarize(rec, ar)
}

// inventoryAnswer lists up to five records with their prices.
func inventoryAnswer(records []domain.DynamicRecord, ar bool) string {
	const shown = 5
	var b strings.Builder
	b.WriteString(pick(ar, "Here's what we have:", "هذه بعض منتجاتنا:"))
	for i, rec := range records {
		if i == shown {
			break
		}
		line := recordName(rec)
		if fv, ok := lookup(rec, attrPrice); ok {
			line += " - " + fv.Value.String()
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, line)
	}
	if extra := len(records) - shown; extra > 0 {
		b.WriteString("\n" + pick(ar, fmt.Sprintf("+%d more", extra), fmt.Sprintf("+%d منتجات أخرى", extra)))
	}
	return b.String()
}
