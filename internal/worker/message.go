package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Delivery channels.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
	ChannelTopic   = "topic"
	ChannelQueue   = "queue"
)

// ErrBadRecipient is returned for a recipient string no channel can handle.
var ErrBadRecipient = errors.New("invalid recipient")

// Message is one notification addressed to one recipient.
type Message struct {
	Recipient string // address on the channel: email, phone, URL, ARN, queue URL
	Channel   string
	Subject   string
	Text      string
	HTML      string
	// Key identifies what is being notified, e.g. "cf-1234:60" or a reminder ID.
	Key string
}

var addressValidator = validator.New()

// addressTags are the validator rules an address must pass on each channel.
var addressTags = map[string]string{
	ChannelEmail:   "email",
	ChannelSMS:     "e164",
	ChannelWebhook: "http_url",
	ChannelQueue:   "omitempty,http_url",
}

var knownChannels = map[string]bool{
	ChannelEmail:   true,
	ChannelSMS:     true,
	ChannelWebhook: true,
	ChannelTopic:   true,
	ChannelQueue:   true,
}

// ParseRecipient splits "channel:address" into its parts and checks the
// address is deliverable on that channel. A bare address is classified by
// shape: "@" is email, a leading "+" is SMS, http(s) URLs are webhooks and
// SNS ARNs are topics. "queue:" with no address targets the default queue.
func ParseRecipient(s string) (channel, address string, err error) {
	channel, address, err = splitRecipient(s)
	if err != nil {
		return "", "", err
	}
	if err := ValidateAddress(channel, address); err != nil {
		return "", "", err
	}
	return channel, address, nil
}

func splitRecipient(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("%w: empty", ErrBadRecipient)
	}

	if ch, addr, ok := strings.Cut(s, ":"); ok && knownChannels[strings.ToLower(ch)] {
		ch = strings.ToLower(ch)
		addr = strings.TrimSpace(addr)
		if addr == "" && ch != ChannelQueue {
			return "", "", fmt.Errorf("%w: %s recipient has no address", ErrBadRecipient, ch)
		}
		return ch, addr, nil
	}

	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return ChannelWebhook, s, nil
	case strings.HasPrefix(s, "arn:aws:sns:"):
		return ChannelTopic, s, nil
	case strings.HasPrefix(s, "+"):
		return ChannelSMS, s, nil
	case strings.Contains(s, "@"):
		return ChannelEmail, s, nil
	}

	return "", "", fmt.Errorf("%w: cannot infer channel for %q", ErrBadRecipient, s)
}

// ValidateAddress reports whether address is well formed for channel.
// CR, LF and NUL are refused on every channel.
func ValidateAddress(channel, address string) error {
	if strings.ContainsAny(address, "\r\n\x00") {
		return fmt.Errorf("%w: %s address contains control characters", ErrBadRecipient, channel)
	}

	if channel == ChannelTopic {
		if !strings.HasPrefix(address, "arn:aws:sns:") || strings.ContainsAny(address, " \t") {
			return fmt.Errorf("%w: topic address %q is not an SNS topic ARN", ErrBadRecipient, address)
		}
		return nil
	}

	tag, ok := addressTags[channel]
	if !ok {
		return fmt.Errorf("%w: unknown channel %q", ErrBadRecipient, channel)
	}
	if err := addressValidator.Var(address, tag); err != nil {
		return fmt.Errorf("%w: %s address %q fails %s", ErrBadRecipient, channel, address, tag)
	}
	return nil
}
