package domain

// ChannelKind names a messaging platform the bot can converse over.
type ChannelKind string

const (
	ChannelTelegram ChannelKind = "telegram"
	ChannelIRC      ChannelKind = "irc"
	ChannelWebChat  ChannelKind = "webchat"
)

// ParseChannelKind converts a raw name into a ChannelKind.
func ParseChannelKind(s string) (ChannelKind, bool) {
	switch ChannelKind(s) {
	case ChannelTelegram, ChannelIRC, ChannelWebChat:
		return ChannelKind(s), true
	default:
		return "", false
	}
}
