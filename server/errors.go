package server

import (
	"errors"
	"net/http"
)

// Exchange failure classes. Handlers wrap these with the concrete cause and
// map them to a status with errors.Is.
var (
	ErrConfiguration    = errors.New("VK credentials not configured")
	ErrProvider         = errors.New("VK authorization failed")
	ErrTokenExchange    = errors.New("Failed to get access token")
	ErrProfileFetch     = errors.New("Failed to get user data")
	ErrMethodNotAllowed = errors.New("Method not allowed")
)

// statusFor maps an exchange error to its HTTP status. Provider side
// failures are the caller's 400; anything unclassified is ours.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrProvider), errors.Is(err, ErrTokenExchange), errors.Is(err, ErrProfileFetch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the text shown to the user for err. Provider internals
// stay in the logs.
func publicMessage(err error) string {
	for _, sentinel := range []error{ErrConfiguration, ErrMethodNotAllowed, ErrProvider, ErrTokenExchange, ErrProfileFetch} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Authentication failed"
}
