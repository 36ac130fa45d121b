package service

import "errors"

// Classified errors crossing the service boundary. Handlers map these onto
// HTTP statuses; raw store or gateway errors never reach a response body.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrentUpdate    = errors.New("wallet is busy, try again")
	ErrNoPayoutDestination = errors.New("no verified payout destination")
	ErrUnknownGateway      = errors.New("unknown payment gateway")
	ErrInvalidAccount      = errors.New("invalid bank account details")
	ErrMalformedEvent      = errors.New("malformed webhook payload")
)
