package memory

import (
	"regexp"
	"strings"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/intent"
	"github.com/soyeahso/concierge/internal/textnorm"
)

// phraseSet matches normalized single words (with the article stripped)
// and multi-word phrases.
type phraseSet struct {
	words   map[string]bool
	phrases []string
}

func newPhraseSet(items ...string) phraseSet {
	ps := phraseSet{words: make(map[string]bool)}
	for _, it := range items {
		n := textnorm.Normalize(it)
		if strings.Contains(n, " ") {
			ps.phrases = append(ps.phrases, n)
			continue
		}
		ps.words[n] = true
		ps.words[textnorm.Stem(n)] = true
	}
	return ps
}

func (ps phraseSet) match(norm string) bool {
	for _, w := range strings.Fields(norm) {
		if ps.words[w] || ps.words[textnorm.Stem(w)] {
			return true
		}
	}
	for _, p := range ps.phrases {
		if textnorm.ContainsPhrase(norm, p) {
			return true
		}
	}
	return false
}

var (
	greetings = newPhraseSet(
		"السلام عليكم", "سلام عليكم", "مرحبا", "مرحبتين", "اهلا", "أهلين", "هلا", "هلا والله",
		"صباح الخير", "مساء الخير", "صباح النور", "مساء النور", "هاي",
		"hi", "hello", "hey", "hiya", "salam", "good morning", "good evening", "good afternoon",
	)
	purchase = newPhraseSet(
		"اشتري", "ابي اشتري", "ابغى اشتري", "اريد اشتري", "ابي اطلب", "ابغى اطلب", "ودي اطلب",
		"كيف اطلب", "كيف اشتري", "اطلب", "احجز", "خلاص ابيه", "اخذه",
		"buy", "purchase", "order", "checkout", "i ll take", "i will take", "ready to buy",
	)
	discount = newPhraseSet(
		"خصم", "خصومات", "تخفيض", "تخفيضات", "ارخص", "اقل سعر", "كوبون", "كود خصم", "عرض خاص",
		"discount", "coupon", "promo", "promotion", "cheaper", "best price", "lower price", "deal",
	)
)

type topic struct {
	name string
	set  phraseSet
	// intent-backed topics use the classifier instead of keywords
	intent intent.Intent
}

var topics = []topic{
	{name: "delivery", set: newPhraseSet("توصيل", "شحن", "يوصل", "توصلون", "delivery", "shipping", "deliver", "ship")},
	{name: "payment", set: newPhraseSet("دفع", "ادفع", "مدى", "فيزا", "تحويل", "كاش", "تقسيط", "payment", "pay", "card", "cash", "visa", "installments")},
	{name: "warranty", set: newPhraseSet("ضمان", "كفالة", "warranty", "guarantee")},
	{name: "returns", set: newPhraseSet("ارجاع", "استرجاع", "استبدال", "ترجيع", "return", "returns", "refund", "exchange")},
	{name: "installation", set: newPhraseSet("تركيب", "تركب", "installation", "install", "setup")},
	{name: "price", intent: intent.Price},
	{name: "availability", intent: intent.Availability},
}

var (
	englishName = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|im)\s+(\p{L}+)`)
	arabicName  = regexp.MustCompile(`(?:أنا اسمي|انا اسمي|اسمي|أنا|انا)\s+(\p{L}+)`)
)

// words that follow "I am" / "انا" without being a name
var notNames = map[string]bool{
	"looking": true, "interested": true, "fine": true, "good": true, "here": true,
	"from": true, "not": true, "just": true, "ok": true, "okay": true, "ready": true,
	"asking": true, "wondering": true, "trying": true, "going": true, "a": true, "an": true,
	"the": true, "very": true, "so": true, "still": true, "also": true, "sorry": true,
	"بخير": true, "مهتم": true, "ابحث": true, "اسال": true, "جاهز": true, "اسمي": true,
}

// Derive computes a ConversationContext from a message window, oldest first.
func Derive(messages []domain.Message) domain.ConversationContext {
	cc := domain.ConversationContext{MessageCount: len(messages)}

	priceMsgs := 0
	wantsToBuy, wantsDiscount := false, false
	var lastIncoming string

	for _, m := range messages {
		if !m.Incoming() {
			continue
		}
		norm := textnorm.Normalize(m.Content)
		lastIncoming = m.Content

		if greetings.match(norm) {
			cc.GreetingCount++
		}
		if name := extractName(m.Content); name != "" {
			cc.CustomerName = name
		}
		if intent.Classify(m.Content) == intent.Price {
			priceMsgs++
		}
		if purchase.match(norm) {
			wantsToBuy = true
		}
		if discount.match(norm) {
			wantsDiscount = true
		}
	}

	if lastIncoming != "" {
		cc.LastIntent = string(intent.Classify(lastIncoming))
	}
	cc.IsReturningCustomer = cc.GreetingCount > 0
	cc.PreviousTopics = recentTopics(messages, 3)

	switch {
	case wantsToBuy:
		cc.Stage = domain.StageClosing
	case wantsDiscount:
		cc.Stage = domain.StageNegotiation
	case priceMsgs > 2:
		cc.Stage = domain.StagePriceSensitive
	case len(messages) > 15:
		cc.Stage = domain.StageEngaged
	case len(messages) > 5:
		cc.Stage = domain.StageInterested
	case cc.IsReturningCustomer && cc.GreetingCount > 1:
		cc.Stage = domain.StageReturningCustomer
	case cc.IsReturningCustomer:
		cc.Stage = domain.StageFamiliarCustomer
	default:
		cc.Stage = domain.StageExploration
	}
	return cc
}

// IsGreeting reports whether text contains a greeting.
func IsGreeting(text string) bool {
	return greetings.match(textnorm.Normalize(text))
}

func extractName(text string) string {
	name := ""
	for _, re := range []*regexp.Regexp{englishName, arabicName} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidate := m[1]
			lower := strings.ToLower(candidate)
			if notNames[lower] || notNames[textnorm.Normalize(candidate)] || textnorm.IsStopWord(textnorm.Normalize(candidate)) {
				continue
			}
			name = candidate
		}
	}
	return name
}

func messageTopics(text string) []string {
	norm := textnorm.Normalize(text)
	var out []string
	var cls intent.Intent
	for _, t := range topics {
		if t.intent != "" {
			if cls == "" {
				cls = intent.Classify(text)
			}
			if cls == t.intent {
				out = append(out, t.name)
			}
			continue
		}
		if t.set.match(norm) {
			out = append(out, t.name)
		}
	}
	return out
}

// recentTopics returns up to n distinct topics, oldest to newest, taken
// from the newest incoming messages.
func recentTopics(messages []domain.Message, n int) []string {
	seen := make(map[string]bool)
	var rev []string
	for i := len(messages) - 1; i >= 0 && len(rev) < n; i-- {
		if !messages[i].Incoming() {
			continue
		}
		ts := messageTopics(messages[i].Content)
		for j := len(ts) - 1; j >= 0 && len(rev) < n; j-- {
			if !seen[ts[j]] {
				seen[ts[j]] = true
				rev = append(rev, ts[j])
			}
		}
	}
	out := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}
