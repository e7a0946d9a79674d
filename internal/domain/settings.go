package domain

import (
	"fmt"
	"slices"
	"time"
)

// DefaultFallbackMessage is sent when nothing else produced a reply.
const DefaultFallbackMessage = "عذراً، لم أتمكن من الإجابة الآن. سيتواصل معك أحد أعضاء فريقنا قريباً.\nSorry, I couldn't answer that right now. A member of our team will get back to you shortly."

// WorkingHours limits when the bot answers. Start after End spans midnight.
type WorkingHours struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Start    string `json:"start,omitempty" yaml:"start,omitempty" validate:"required_if=Enabled true,omitempty,datetime=15:04"`
	End      string `json:"end,omitempty" yaml:"end,omitempty" validate:"required_if=Enabled true,omitempty,datetime=15:04"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Days     []int  `json:"days,omitempty" yaml:"days,omitempty" validate:"dive,min=0,max=6"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Open reports whether t falls inside the configured hours. Disabled or
// unparsable hours count as always open.
func (w WorkingHours) Open(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	start, err1 := time.Parse("15:04", w.Start)
	end, err2 := time.Parse("15:04", w.End)
	if err1 != nil || err2 != nil {
		return true
	}
	if w.Timezone != "" {
		if loc, err := time.LoadLocation(w.Timezone); err == nil {
			t = t.In(loc)
		}
	}

	now := t.Hour()*60 + t.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()

	day := int(t.Weekday())
	if from > to && now < to {
		// early-morning part of a shift that started the previous day
		day = (day + 6) % 7
	}
	if len(w.Days) > 0 && !slices.Contains(w.Days, day) {
		return false
	}

	switch {
	case from == to:
		return true
	case from < to:
		return now >= from && now < to
	default:
		return now >= from || now < to
	}
}

// MerchantSettings is the persona and behaviour configuration of one merchant's bot.
type MerchantSettings struct {
	BotName             string       `json:"botName,omitempty" yaml:"botName,omitempty"`
	BusinessName        string       `json:"businessName,omitempty" yaml:"businessName,omitempty"`
	BusinessDescription string       `json:"businessDescription,omitempty" yaml:"businessDescription,omitempty"`
	Tone                string       `json:"tone,omitempty" yaml:"tone,omitempty" validate:"omitempty,oneof=friendly professional casual formal"`
	Language            string       `json:"language,omitempty" yaml:"language,omitempty" validate:"omitempty,oneof=auto ar en"`
	UseEmoji            bool         `json:"useEmoji" yaml:"useEmoji"`
	Providers           []string     `json:"providers,omitempty" yaml:"providers,omitempty"`
	MaxTokens           int          `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" validate:"omitempty,min=16,max=4096"`
	Temperature         *float64     `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	Paused              bool         `json:"paused" yaml:"paused"`
	WorkingHours        WorkingHours `json:"workingHours" yaml:"workingHours"`
	PurchaseLink        string       `json:"purchaseLink,omitempty" yaml:"purchaseLink,omitempty" validate:"omitempty,url"`
	FallbackMessage     string       `json:"fallbackMessage,omitempty" yaml:"fallbackMessage,omitempty"`
}

// DefaultSettings returns the settings used when a merchant has none stored.
func DefaultSettings() MerchantSettings {
	return MerchantSettings{
		BotName:   "Assistant",
		Tone:      "friendly",
		Language:  "auto",
		UseEmoji:  true,
		MaxTokens: 300,
	}
}

// WithDefaults fills zero-value fields from DefaultSettings.
func (s MerchantSettings) WithDefaults() MerchantSettings {
	d := DefaultSettings()
	if s.BotName == "" {
		s.BotName = d.BotName
	}
	if s.Tone == "" {
		s.Tone = d.Tone
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = d.MaxTokens
	}
	return s
}

// TemperatureOr returns the configured temperature or def.
func (s MerchantSettings) TemperatureOr(def float64) float64 {
	if s.Temperature == nil {
		return def
	}
	return *s.Temperature
}

// Fallback returns the merchant's fallback text or the default apology.
func (s MerchantSettings) Fallback() string {
	if s.FallbackMessage != "" {
		return s.FallbackMessage
	}
	return DefaultFallbackMessage
}

// Display names the business for greetings.
func (s MerchantSettings) Display() string {
	if s.BusinessName != "" {
		return s.BusinessName
	}
	return s.BotName
}

func (w WorkingHours) String() string {
	if !w.Enabled {
		return "always"
	}
	return fmt.Sprintf("%s-%s %s", w.Start, w.End, w.Timezone)
}
