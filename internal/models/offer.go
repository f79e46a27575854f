package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferStatus is the status of an offer set. Pending is the only non-terminal value.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// Terminal reports whether s is a resolved status.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferDeclined || s == OfferExpired
}

// Offer is one candidate contract inside an offer set.
type Offer struct {
	Terms
	// Loyalty marks the offer from the participant's current organization.
	Loyalty bool `json:"loyalty,omitempty"`
}

// OfferSet is a time-boxed group of competing offers presented for one decision.
type OfferSet struct {
	ID                   uuid.UUID   `json:"id"`
	ParticipantID        uuid.UUID   `json:"participant_id"`
	Offers               []Offer     `json:"offers"`
	Status               OfferStatus `json:"status"`
	AcceptedOrganization string      `json:"accepted_organization,omitempty"`
	EarlyRenewal         bool        `json:"early_renewal,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	Deadline             time.Time   `json:"deadline"`
	ResolvedAt           *time.Time  `json:"resolved_at,omitempty"`
}

// Find returns the offer from the named organization, if present.
func (s *OfferSet) Find(organization string) (Offer, bool) {
	for _, o := range s.Offers {
		if (Organization{Name: o.Organization}).Matches(organization) {
			return o, true
		}
	}
	return Offer{}, false
}

// PastDeadline reports whether the response window has elapsed at now.
func (s *OfferSet) PastDeadline(now time.Time) bool {
	return !now.Before(s.Deadline)
}
