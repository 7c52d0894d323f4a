package dispatch

import "context"

// Message is a rendered push notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// DeliveryChannel sends a message to a single device token. Implementations
// must be safe for concurrent use from worker goroutines and should bound
// each call with their own transport timeout.
type DeliveryChannel interface {
	SendSingle(ctx context.Context, token string, msg Message) error
}

// MulticastResult summarizes a batch send. Errors maps failed tokens to
// their delivery errors.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Errors       map[string]error
}

// MulticastChannel is an optional capability: channels that can fan out a
// message to many tokens in one call. The dispatcher prefers it when
// present and falls back to per-token sends otherwise.
type MulticastChannel interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*MulticastResult, error)
}
