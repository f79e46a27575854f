package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rosterleague/backend/internal/models"
)

// Store errors. They never reach HTTP callers directly; the state machine maps them.
var (
	ErrPendingExists        = errors.New("store: pending offer set exists")
	ErrActiveContractExists = errors.New("store: active contract exists")
)

// Store is the authoritative record of contracts and offer sets.
// Every multi-record change is applied as one unit or not at all.
type Store interface {
	// GetParticipant returns nil when the participant has never enrolled.
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	// GetContract returns the participant's current contract (possibly expired), or nil.
	GetContract(ctx context.Context, participantID uuid.UUID) (*models.Contract, error)
	GetPendingOfferSet(ctx context.Context, participantID uuid.UUID) (*models.OfferSet, error)
	GetOfferSet(ctx context.Context, id uuid.UUID) (*models.OfferSet, error)
	ListContracts(ctx context.Context, participantID uuid.UUID) ([]models.Contract, error)

	// CreateEntryContract creates the participant if needed and makes c current.
	// Fails with ErrActiveContractExists when an active contract is already on record.
	CreateEntryContract(ctx context.Context, c *models.Contract) error
	// CreateOfferSet inserts a pending set. With replacePending any pending set of the
	// participant is expired in the same unit; otherwise ErrPendingExists is returned.
	CreateOfferSet(ctx context.Context, set *models.OfferSet, replacePending bool) error
	// ResolveOfferSet is the conditional write: it applies r only if the set's status is
	// still r.Expected and reports whether it did.
	ResolveOfferSet(ctx context.Context, r Resolution) (bool, error)

	// ScanExpiredContracts lists active contracts expired at now whose participant has no pending set.
	ScanExpiredContracts(ctx context.Context, now time.Time, limit int) ([]models.Contract, error)
	// ScanExpiredOfferSets lists pending sets whose deadline is at or before now.
	ScanExpiredOfferSets(ctx context.Context, now time.Time, limit int) ([]models.OfferSet, error)
}

// Resolution is one terminal transition of an offer set plus its side effects.
type Resolution struct {
	OfferSetID           uuid.UUID
	ParticipantID        uuid.UUID
	Expected             models.OfferStatus
	Next                 models.OfferStatus
	AcceptedOrganization string
	At                   time.Time
	// Contract, when set, becomes current; the previous current contract is marked expired.
	Contract *models.Contract
	// Demote clears the affiliation and expires the current contract.
	Demote bool
}
