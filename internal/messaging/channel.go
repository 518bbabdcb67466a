package messaging

import (
	"fmt"
	"strings"
)

// Channel is the transport a message travels over.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelMMS   Channel = "mms"
	ChannelEmail Channel = "email"
)

// UnsupportedChannelError is returned for a channel with no gateway.
type UnsupportedChannelError struct {
	Channel string
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("messaging: unsupported channel %q", e.Channel)
}

// ParseChannel validates a channel name. Matching ignores case and surrounding spaces.
func ParseChannel(raw string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(raw))); c {
	case ChannelSMS, ChannelMMS, ChannelEmail:
		return c, nil
	default:
		return "", &UnsupportedChannelError{Channel: raw}
	}
}

// Family groups channels that share a provider gateway: sms and mms go together.
func (c Channel) Family() string {
	if c == ChannelMMS {
		return string(ChannelSMS)
	}
	return string(c)
}

// IsPhone reports whether the channel addresses phone numbers.
func (c Channel) IsPhone() bool {
	return c == ChannelSMS || c == ChannelMMS
}
