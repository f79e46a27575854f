package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is the commitment class of a contract.
type Tier string

const (
	TierFull        Tier = "full"
	TierConditional Tier = "conditional"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFull || t == TierConditional
}

// ContractStatus is the lifecycle status of a contract.
type ContractStatus string

const (
	ContractActive  ContractStatus = "active"
	ContractExpired ContractStatus = "expired"
)

// ContractSource records how a contract came to exist.
type ContractSource string

const (
	SourceEntry ContractSource = "entry"
	SourceOffer ContractSource = "offer"
)

// ClauseKind identifies a protective clause.
type ClauseKind string

const (
	// ClauseNoTrade blocks reassignment to other organizations.
	ClauseNoTrade ClauseKind = "no_trade"
	// ClauseNoMovement blocks any transfer, including to the conditional tier.
	ClauseNoMovement ClauseKind = "no_movement"
)

// ClauseScope is how far a clause reaches.
type ClauseScope string

const (
	ScopeFull    ClauseScope = "full"
	ScopePartial ClauseScope = "partial"
)

// Clause is a protective addendum on an offer or contract.
type Clause struct {
	Kind  ClauseKind  `json:"kind"`
	Scope ClauseScope `json:"scope"`
	// ListSize is the number of organizations covered by a partial clause.
	ListSize int `json:"list_size,omitempty"`
	// EffectiveFromYear delays the clause; 0 or 1 means from the start.
	EffectiveFromYear int `json:"effective_from_year,omitempty"`
}

// Descriptor is the human-readable scope of the clause.
func (c Clause) Descriptor() string {
	var s string
	if c.Scope == ScopeFull {
		s = "full"
	} else {
		s = fmt.Sprintf("partial (%d organizations)", c.ListSize)
	}
	if c.EffectiveFromYear > 1 {
		s += fmt.Sprintf(", from year %d", c.EffectiveFromYear)
	}
	return s
}

// MarshalJSON writes the clause with its descriptor.
func (c Clause) MarshalJSON() ([]byte, error) {
	type plain Clause
	return json.Marshal(struct {
		plain
		Descriptor string `json:"descriptor"`
	}{plain(c), c.Descriptor()})
}

// Terms are the negotiable fields shared by offers and contracts.
type Terms struct {
	Organization  string   `json:"organization"`
	DurationYears int      `json:"duration_years"`
	Compensation  float64  `json:"compensation"`
	Tier          Tier     `json:"tier"`
	Clauses       []Clause `json:"clauses,omitempty"`
}

// Contract is a participant's affiliation. A new contract supersedes the previous one;
// contracts are never edited other than being marked expired.
type Contract struct {
	ID            uuid.UUID      `json:"id"`
	ParticipantID uuid.UUID      `json:"participant_id"`
	Terms                        // organization, duration, compensation, tier, clauses
	Status        ContractStatus `json:"status"`
	Source        ContractSource `json:"source"`
	OfferSetID    *uuid.UUID     `json:"offer_set_id,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	ExpiryTime    time.Time      `json:"expiry_time"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Expired reports whether the contract's expiry has been reached at now.
func (c *Contract) Expired(now time.Time) bool {
	return !now.Before(c.ExpiryTime)
}

// Remaining returns the time left before expiry, or zero once reached.
func (c *Contract) Remaining(now time.Time) time.Duration {
	if d := c.ExpiryTime.Sub(now); d > 0 {
		return d
	}
	return 0
}
