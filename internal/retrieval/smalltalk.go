package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/textnorm"
)

type smallTalkKind int

// Ordered by precedence when several families match one message.
const (
	talkReadyToBuy smallTalkKind = iota
	talkThanks
	talkFarewell
	talkGreeting
)

type smallTalkFamily struct {
	kind     smallTalkKind
	patterns []*regexp.Regexp
}

// phrase compiles normalized alternatives bounded by whitespace. Go's \b
// only knows ASCII word characters, so Arabic needs explicit bounds.
func phrase(alts ...string) *regexp.Regexp {
	norm := make([]string, 0, len(alts))
	for _, a := range alts {
		norm = append(norm, regexp.QuoteMeta(textnorm.Normalize(a)))
	}
	// longest first, since alternation is leftmost-first
	sort.SliceStable(norm, func(i, j int) bool { return len(norm[i]) > len(norm[j]) })
	return regexp.MustCompile(`(?:^|\s)(?:` + strings.Join(norm, "|") + `)(?:\s|$)`)
}

var smallTalk = []smallTalkFamily{
	{kind: talkReadyToBuy, patterns: []*regexp.Regexp{
		phrase("ابي اطلب", "ابغى اطلب", "ابي اشتري", "ابغى اشتري", "اريد الشراء", "اريد ان اطلب", "اريد اطلب",
			"كيف اطلب", "كيف اشتري", "ودي اطلب", "جاهز للطلب", "خلاص ابيه", "تمام ابيه"),
		phrase("i want to buy", "i want to order", "i ll take it", "i will take it", "how do i order",
			"how can i order", "how can i buy", "ready to buy", "ready to order", "place an order", "i want it"),
	}},
	{kind: talkThanks, patterns: []*regexp.Regexp{
		phrase("شكرا", "شكرا لك", "شكرا جزيلا", "مشكور", "مشكورين", "يعطيك العافيه", "الله يعطيك العافيه", "تسلم", "ممنون"),
		phrase("thanks", "thank you", "thank you so much", "thanks a lot", "thx", "ty", "appreciate it"),
	}},
	{kind: talkFarewell, patterns: []*regexp.Regexp{
		phrase("مع السلامه", "في امان الله", "الى اللقاء", "باي"),
		phrase("bye", "goodbye", "good bye", "see you", "see ya", "take care", "good night"),
	}},
	{kind: talkGreeting, patterns: []*regexp.Regexp{
		phrase("السلام عليكم", "السلام عليكم ورحمه الله", "السلام عليكم ورحمه الله وبركاته", "سلام عليكم",
			"مرحبا", "مرحبتين", "اهلا", "اهلين", "اهلا وسهلا", "هلا", "هلا والله", "هاي",
			"صباح الخير", "مساء الخير", "صباح النور", "مساء النور"),
		phrase("hi", "hello", "hey", "hiya", "salam", "good morning", "good afternoon", "good evening", "greetings"),
	}},
}

// words that carry no request on their own next to small talk
var filler = toSet(
	"guys", "team", "everyone", "all", "again", "very", "lot", "so", "sir", "madam", "dear", "friend", "bot",
	"شباب", "جميعا", "جزيلا", "كثير", "الله", "اخوي", "اخي", "عزيزي", "حبيبي", "مره", "والله",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		n := textnorm.Normalize(w)
		m[n] = true
		m[textnorm.Stem(n)] = true
	}
	return m
}

// matchSmallTalk reports the highest-precedence family found in query,
// provided nothing but small talk remains once it is removed.
func matchSmallTalk(query string) (smallTalkKind, bool) {
	rest := " " + textnorm.Normalize(query) + " "
	best, found := smallTalkKind(-1), false
	for _, f := range smallTalk {
		for _, re := range f.patterns {
			if !re.MatchString(rest) {
				continue
			}
			// patterns consume their bounding spaces, so pad before each pass
			for re.MatchString(rest) {
				rest = " " + re.ReplaceAllString(rest, "  ") + " "
			}
			if !found {
				best, found = f.kind, true
			}
		}
	}
	if !found {
		return 0, false
	}
	for _, tok := range textnorm.Tokens(rest) {
		if !filler[tok] {
			return 0, false
		}
	}
	return best, true
}

func smallTalkReply(kind smallTalkKind, query string, cc domain.ConversationContext, s domain.MerchantSettings) string {
	ar := replyArabic(s, query)
	wave := ""
	if s.UseEmoji {
		wave = " 👋"
	}

	switch kind {
	case talkReadyToBuy:
		if s.PurchaseLink != "" {
			if ar {
				return "رائع! يمكنك إتمام طلبك من هنا: " + s.PurchaseLink
			}
			return "Great choice! You can complete your order here: " + s.PurchaseLink
		}
		if ar {
			return "رائع! أخبرني بالمنتج الذي تريده وسنكمل الطلب معك."
		}
		return "Great! Tell me which item you'd like and we'll take care of your order."
	case talkThanks:
		if ar {
			return "العفو! هل تحتاج أي شيء آخر؟"
		}
		return "You're welcome! Is there anything else I can help with?"
	case talkFarewell:
		if ar {
			return "مع السلامة! سعدنا بخدمتك."
		}
		return "Goodbye! It was a pleasure helping you."
	}

	salamReply := strings.Contains(textnorm.Normalize(query), "سلام عليكم")
	if cc.GreetingCount >= 1 {
		if ar {
			if salamReply {
				return "وعليكم السلام، أهلاً بك من جديد! كيف أقدر أساعدك؟"
			}
			return "أهلاً بك من جديد! كيف أقدر أساعدك؟"
		}
		return "Welcome back! How can I help?"
	}
	if ar {
		opening := "أهلاً وسهلاً"
		if salamReply {
			opening = "وعليكم السلام ورحمة الله"
		}
		return fmt.Sprintf("%s!%s مرحباً بك في %s. أنا %s، كيف أقدر أساعدك اليوم؟", opening, wave, s.Display(), s.BotName)
	}
	return fmt.Sprintf("Hello!%s Welcome to %s. I'm %s, how can I help you today?", wave, s.Display(), s.BotName)
}

// replyArabic decides the reply language: forced by settings, otherwise
// following the script of the query.
func replyArabic(s domain.MerchantSettings, query string) bool {
	switch s.Language {
	case "ar":
		return true
	case "en":
		return false
	}
	return textnorm.HasArabic(query)
}
