package synth

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Settings domain.MerchantSettings
	Context  domain.ConversationContext
	Records  []domain.DynamicRecord
	Now      time.Time
}

var toneGuide = map[string]string{
	"friendly":     "warm and friendly",
	"professional": "polite and professional",
	"casual":       "relaxed and casual",
	"formal":       "formal and respectful",
}

var stageGuide = map[domain.Stage]string{
	domain.StageClosing:           "The customer is ready to buy. Confirm their choice and point them to the purchase link.",
	domain.StageNegotiation:       "The customer is asking for a better price. Stay courteous, never promise discounts that are not listed, and highlight value.",
	domain.StagePriceSensitive:    "The customer cares about price. Lead with prices and affordable options from the records.",
	domain.StageEngaged:           "The customer is engaged. Answer precisely and suggest a relevant next step.",
	domain.StageInterested:        "The customer is showing interest. Give useful details and invite follow-up questions.",
	domain.StageReturningCustomer: "This is a returning customer. Do not greet them again; continue naturally.",
	domain.StageFamiliarCustomer:  "You have already greeted this customer. Do not greet them again; answer directly.",
	domain.StageExploration:       "The customer is exploring. Answer briefly and ask one qualifying question about what they need.",
}

// BuildSystemPrompt constructs the system instruction for a customer reply.
func BuildSystemPrompt(cfg PromptConfig) string {
	s := cfg.Settings
	cc := cfg.Context
	var b strings.Builder

	// Persona
	fmt.Fprintf(&b, "You are %s, the customer service assistant for %s.\n", s.BotName, s.Display())
	if s.BusinessDescription != "" {
		fmt.Fprintf(&b, "About the business: %s\n", s.BusinessDescription)
	}
	if !cfg.Now.IsZero() {
		fmt.Fprintf(&b, "Current date: %s\n", cfg.Now.Format("2006-01-02"))
	}
	b.WriteString("\n")

	b.WriteString("Guidelines:\n")
	tone, ok := toneGuide[s.Tone]
	if !ok {
		tone = toneGuide["friendly"]
	}
	fmt.Fprintf(&b, "- Keep a %s tone and reply in a few short sentences suitable for a chat app.\n", tone)
	switch s.Language {
	case "ar":
		b.WriteString("- Always reply in Arabic.\n")
	case "en":
		b.WriteString("- Always reply in English.\n")
	default:
		b.WriteString("- Reply in the same language the customer writes in.\n")
	}
	if s.UseEmoji {
		b.WriteString("- You may use an occasional emoji.\n")
	} else {
		b.WriteString("- Do not use emoji.\n")
	}
	b.WriteString("- Do not use markdown formatting.\n")

	// Customer
	if cc.CustomerName != "" {
		fmt.Fprintf(&b, "\nThe customer's name is %s. Use it naturally.\n", cc.CustomerName)
	}
	if guide, ok := stageGuide[cc.Stage]; ok {
		b.WriteString("\n")
		b.WriteString(guide)
		if cc.Stage == domain.StageClosing && s.PurchaseLink != "" {
			fmt.Fprintf(&b, " Purchase link: %s", s.PurchaseLink)
		}
		b.WriteString("\n")
	}
	if len(cc.PreviousTopics) > 0 {
		fmt.Fprintf(&b, "Topics discussed so far: %s.\n", strings.Join(cc.PreviousTopics, ", "))
	}

	// Grounding
	b.WriteString("\n")
	if len(cfg.Records) == 0 {
		b.WriteString("No catalog records match this question. Do not invent products, prices or policies; offer to have the team follow up instead.\n")
		return b.String()
	}
	b.WriteString("Use only these catalog records for product facts. If the answer is not in them, say so and offer to have the team follow up.\n")
	for i, rec := range cfg.Records {
		fmt.Fprintf(&b, "\nRecord %d:\n", i+1)
		for _, fv := range rec.NonEmpty() {
			fmt.Fprintf(&b, "%s: %s\n", fv.Name, fv.Value.String())
		}
	}
	return b.String()
}
