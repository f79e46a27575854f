package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Precondition and race errors returned by the state machine. Callers match them with errors.Is.
var (
	ErrAlreadyPending         = errors.New("an offer set is already pending")
	ErrAlreadyActiveUnexpired = errors.New("contract is active and has not expired")
	ErrNoPendingOffer         = errors.New("no pending offer set")
	ErrUnknownOffer           = errors.New("organization is not among the pending offers")
	ErrOfferAlreadyResolved   = errors.New("offer set was already resolved")
	ErrAlreadyEnrolled        = errors.New("participant already has an active contract")
	ErrNoOrganizations        = errors.New("no organizations available")
)

// ActiveContractError reports the remaining time on an unexpired contract.
type ActiveContractError struct {
	Organization string
	Expiry       time.Time
	Remaining    time.Duration
}

func (e *ActiveContractError) Error() string {
	return fmt.Sprintf("%s: with %s until %s (%s left)",
		ErrAlreadyActiveUnexpired, e.Organization, e.Expiry.UTC().Format(time.RFC3339), e.Remaining.Round(time.Minute))
}

// Is matches ErrAlreadyActiveUnexpired.
func (e *ActiveContractError) Is(target error) bool {
	return target == ErrAlreadyActiveUnexpired
}
