package carrier

import "errors"

// ErrNotFound is returned by FindUserByEmail when the carrier has no
// user record for the address.
var ErrNotFound = errors.New("carrier user not found")

// CreateUserOutcome enumerates the typed results of a create-user call.
type CreateUserOutcome int

const (
	// OutcomeCreated means the carrier created a new user record.
	OutcomeCreated CreateUserOutcome = iota
	// OutcomeAlreadyExists means the carrier already has a user for the
	// email. The carrier's create endpoint is not idempotent, so callers
	// must reconcile via FindUserByEmail.
	OutcomeAlreadyExists
)

// CreateUserResult is the typed variant returned by CreateUser. UserID is
// populated only when Outcome is OutcomeCreated.
type CreateUserResult struct {
	Outcome CreateUserOutcome
	UserID  string
}

// CreateUserParams describes the carrier-side user to provision.
type CreateUserParams struct {
	FirstName  string
	LastName   string
	Email      string
	ExternalID string
}

// ActivateLineParams describes the line-activation request. CarrierUserID
// is required; the remaining fields fall back to the client's configured
// defaults when empty.
type ActivateLineParams struct {
	CarrierUserID     string
	Country           string
	PreferredAreaCode string
}

// SIM holds the eSIM download artifacts returned with an activated line.
// Either field may be empty when the carrier omits it.
type SIM struct {
	ActivationURL  string
	ActivationCode string
}

// Line is a provisioned mobile line as reported by the carrier. PhoneNumber
// and ICCID are optional in carrier responses and may be empty.
type Line struct {
	LineID      string
	PhoneNumber string
	ICCID       string
	Status      string
	SIM         SIM
}

// ActivateLineResult carries the activated line plus the raw provider
// response body for audit persistence.
type ActivateLineResult struct {
	Line
	RawResponse []byte
}
