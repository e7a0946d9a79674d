package domain

// Stage is a coarse classification of where a conversation is heading.
type Stage string

const (
	StageClosing           Stage = "closing"
	StageNegotiation       Stage = "negotiation"
	StagePriceSensitive    Stage = "price_sensitive"
	StageEngaged           Stage = "engaged"
	StageInterested        Stage = "interested"
	StageReturningCustomer Stage = "returning_customer"
	StageFamiliarCustomer  Stage = "familiar_customer"
	StageExploration       Stage = "exploration"
)

// ConversationContext is derived from the recent message window on read.
// It is never the source of truth.
type ConversationContext struct {
	CustomerName        string   `json:"customerName,omitempty"`
	LastIntent          string   `json:"lastIntent,omitempty"`
	GreetingCount       int      `json:"greetingCount"`
	IsReturningCustomer bool     `json:"isReturningCustomer"`
	Stage               Stage    `json:"stage"`
	PreviousTopics      []string `json:"previousTopics,omitempty"`
	MessageCount        int      `json:"messageCount"`
}
