package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Participant is a tracked member with at most one current affiliation.
// Rows are never deleted; demotion resets the affiliation fields instead.
type Participant struct {
	ID                uuid.UUID  `json:"id"`
	Organization      string     `json:"organization,omitempty"`
	Unaffiliated      bool       `json:"unaffiliated"`
	CurrentContractID *uuid.UUID `json:"current_contract_id,omitempty"`
	EnrolledAt        time.Time  `json:"enrolled_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
