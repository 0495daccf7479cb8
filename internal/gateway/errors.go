package gateway

import "errors"

var (
	// ErrInvalidBotToken hides why authentication failed.
	ErrInvalidBotToken = errors.New("invalid bot token")
	// ErrRoutingUnavailable means the bot has nothing to route to.
	ErrRoutingUnavailable = errors.New("routing unavailable")
	// ErrCredentialUnavailable means a vendor was chosen but no key could serve it.
	ErrCredentialUnavailable = errors.New("no credential available")
)
