package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names an outbound participant notification.
type EventKind string

const (
	EventEntryContractIssued EventKind = "entry_contract_issued"
	EventOffersAvailable     EventKind = "offers_available"
	EventContractSigned      EventKind = "contract_signed"
	EventBecameUnaffiliated  EventKind = "became_unaffiliated"
)

// Event is emitted after a committed transition. Contract or OfferSet is set depending on Kind.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Kind          EventKind `json:"kind"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Contract      *Contract `json:"contract,omitempty"`
	OfferSet      *OfferSet `json:"offer_set,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}
