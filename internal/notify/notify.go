package notify

import (
	"errors"
	"fmt"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ParseChannels turns configured names into channels, ignoring blanks.
func ParseChannels(names []string) ([]Channel, error) {
	var out []Channel
	for _, n := range names {
		switch Channel(n) {
		case ChannelEmail, ChannelSMS:
			out = append(out, Channel(n))
		case "":
		default:
			return nil, fmt.Errorf("unknown channel %q", n)
		}
	}
	return out, nil
}

var (
	ErrNotificationFailure  = errors.New("notification failure")
	ErrUnknownTemplate      = errors.New("unknown notification template")
	ErrChannelNotConfigured = errors.New("notification channel not configured")
	ErrMissingAddress       = errors.New("recipient has no address for channel")
)

// Recipient carries every address we know for a person; the channel picks one.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

func (r Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	}
	return ""
}

// permanentError marks a transport failure that retrying cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
