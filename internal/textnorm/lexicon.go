package textnorm

var stopWords = toSet(
	// Arabic
	"في", "من", "على", "علي", "الى", "الي", "عن", "مع", "هل", "ما", "ماذا", "شو", "ايش", "وش",
	"هذا", "هذه", "هاذا", "ذلك", "تلك", "هو", "هي", "انا", "انت", "انتم", "نحن", "هم",
	"او", "و", "ثم", "لو", "كان", "يكون", "عند", "عندي", "لي", "لك", "كم",
	"ممكن", "سمحت", "فضلك", "رجاء", "ابي", "ابغى", "ابغي", "اريد", "بدي", "عايز", "عاوز",
	"يا", "اللي", "الذي", "التي", "بس", "فقط", "كل", "شي", "شيء", "حق",
	// English
	"the", "a", "an", "is", "are", "was", "were", "be", "of", "for", "to", "in", "on", "at",
	"and", "or", "with", "do", "does", "did", "you", "your", "i", "me", "my", "we", "our",
	"please", "can", "could", "would", "will", "what", "how", "much", "many", "there",
	"have", "has", "it", "its", "this", "that", "these", "those", "some", "any", "about",
	"tell", "show", "want", "need", "like", "get", "give", "pls", "plz",
)

// synonymGroups are written in plain form and normalized at init.
var synonymGroups = [][]string{
	{"جوال", "موبايل", "هاتف", "تلفون", "تليفون", "phone", "mobile", "smartphone"},
	{"لابتوب", "حاسوب", "كمبيوتر", "laptop", "notebook", "computer"},
	{"سعر", "ثمن", "تكلفة", "price", "cost"},
	{"توصيل", "شحن", "delivery", "shipping"},
	{"ضمان", "كفالة", "warranty", "guarantee"},
	{"لون", "الوان", "color", "colour"},
	{"مقاس", "حجم", "size"},
	{"حذاء", "جزمة", "shoes", "shoe"},
	{"قميص", "تيشيرت", "shirt", "tshirt"},
	{"عطر", "برفيوم", "perfume", "fragrance"},
	{"ساعة", "watch"},
	{"شنطة", "حقيبة", "bag"},
	{"سماعة", "سماعات", "headphones", "earbuds"},
}

var synonyms = buildSynonyms(synonymGroups)

// Expand returns the token together with its synonyms.
func Expand(token string) []string {
	if group, ok := synonyms[token]; ok {
		return group
	}
	return []string{token}
}

func buildSynonyms(groups [][]string) map[string][]string {
	out := make(map[string][]string)
	for _, g := range groups {
		norm := make([]string, 0, len(g))
		for _, w := range g {
			norm = append(norm, Stem(Normalize(w)))
		}
		for _, w := range norm {
			out[w] = norm
		}
	}
	return out
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[Normalize(w)] = true
	}
	return m
}
