package domain

import "time"

// DeviceEndpoint is a push target registered by a user's device. Tokens
// are unique across all users; re-registering a token moves it to the
// registering uid.
type DeviceEndpoint struct {
	UID       string
	Token     string
	Provider  string
	CreatedAt time.Time
}
