// Package contracts implements the contract lifecycle: enrollment, offer negotiation,
// deadlines and their resolution against the contract store.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/internal/offers"
	"github.com/rosterleague/backend/internal/timemodel"
)

// DefaultResponseWindow is how long a participant has to answer an offer set.
const DefaultResponseWindow = 72 * time.Hour

// Directory is the read-only organization roster.
type Directory interface {
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	// GetOrganization returns nil when no organization matches name.
	GetOrganization(ctx context.Context, name string) (*models.Organization, error)
}

// ReputationSource supplies the participant's reputation score in [0, 100].
type ReputationSource interface {
	Score(ctx context.Context, participantID uuid.UUID) (int, error)
}

// Notifier receives events after a transition has committed. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

// Options tune a StateMachine. Zero values fall back to defaults.
type Options struct {
	ResponseWindow    time.Duration
	AllowEarlyRenewal bool
	Now               func() time.Time
	NewRand           func() *rand.Rand
	Metrics           *Metrics
	Logger            *zap.Logger
}

// StateMachine drives a participant through Unaffiliated, Active and PendingOffer.
// It keeps no record state between calls; every decision re-reads the store.
type StateMachine struct {
	store      Store
	directory  Directory
	reputation ReputationSource
	generator  *offers.Generator
	notifier   Notifier
	metrics    *Metrics
	logger     *zap.Logger

	now               func() time.Time
	newRand           func() *rand.Rand
	responseWindow    time.Duration
	allowEarlyRenewal bool

	onOfferSetCreated  func(set models.OfferSet)
	onOfferSetResolved func(offerSetID uuid.UUID)
}

// NewStateMachine wires the state machine to its collaborators.
func NewStateMachine(store Store, dir Directory, rep ReputationSource, gen *offers.Generator, n Notifier, opts Options) *StateMachine {
	sm := &StateMachine{
		store:             store,
		directory:         dir,
		reputation:        rep,
		generator:         gen,
		notifier:          n,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		now:               opts.Now,
		newRand:           opts.NewRand,
		responseWindow:    opts.ResponseWindow,
		allowEarlyRenewal: opts.AllowEarlyRenewal,
	}
	if sm.logger == nil {
		sm.logger = zap.NewNop()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	if sm.newRand == nil {
		sm.newRand = offers.NewRand
	}
	if sm.responseWindow <= 0 {
		sm.responseWindow = DefaultResponseWindow
	}
	return sm
}

// SetOfferSetCreatedHandler registers a callback run after an offer set is committed
// (e.g. to arm a low-latency deadline timer).
func (sm *StateMachine) SetOfferSetCreatedHandler(fn func(set models.OfferSet)) {
	sm.onOfferSetCreated = fn
}

// SetOfferSetResolvedHandler registers a callback run after this instance resolves an
// offer set by accept, decline or expiry.
func (sm *StateMachine) SetOfferSetResolvedHandler(fn func(offerSetID uuid.UUID)) {
	sm.onOfferSetResolved = fn
}

// ResponseWindow returns the configured answer window.
func (sm *StateMachine) ResponseWindow() time.Duration { return sm.responseWindow }

// Initiate enrolls a participant with an entry contract at a random roster organization.
func (sm *StateMachine) Initiate(ctx context.Context, participantID uuid.UUID) (*models.Contract, error) {
	current, err := sm.store.GetContract(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == models.ContractActive {
		return nil, ErrAlreadyEnrolled
	}
	orgs, err := sm.directory.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	if len(orgs) == 0 {
		return nil, ErrNoOrganizations
	}

	rng := sm.newRand()
	org := orgs[rng.IntN(len(orgs))]
	offer := sm.generator.Entry(org.Name, rng)
	now := sm.now()
	c := newContract(participantID, offer.Terms, models.SourceEntry, nil, now)

	if err := sm.store.CreateEntryContract(ctx, c); err != nil {
		if errors.Is(err, ErrActiveContractExists) {
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("create entry contract: %w", err)
	}
	sm.metrics.transition("enroll")
	sm.logger.Info("entry contract issued",
		zap.String("participant_id", participantID.String()),
		zap.String("organization", c.Organization),
		zap.Time("expiry", c.ExpiryTime))
	sm.emit(ctx, models.Event{Kind: models.EventEntryContractIssued, ParticipantID: participantID, Contract: c, At: now})
	return c, nil
}

// RequestOptions qualify an offer request.
type RequestOptions struct {
	// EarlyRenewal asks for offers while the current contract is still running.
	EarlyRenewal bool
}

type requestMode int

const (
	modeRequested requestMode = iota
	modeExpiry
	modeForced
)

// RequestOffers generates a new pending offer set for the participant.
func (sm *StateMachine) RequestOffers(ctx context.Context, participantID uuid.UUID, opts RequestOptions) (*models.OfferSet, error) {
	return sm.requestOffers(ctx, participantID, modeRequested, opts.EarlyRenewal)
}

// ForceRegenerate replaces any pending offer set with a fresh one regardless of contract state.
func (sm *StateMachine) ForceRegenerate(ctx context.Context, participantID uuid.UUID) (*models.OfferSet, error) {
	return sm.requestOffers(ctx, participantID, modeForced, true)
}

func (sm *StateMachine) requestOffers(ctx context.Context, participantID uuid.UUID, mode requestMode, early bool) (*models.OfferSet, error) {
	now := sm.now()
	pending, err := sm.store.GetPendingOfferSet(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if pending != nil && mode != modeForced {
		if !pending.PastDeadline(now) {
			return nil, ErrAlreadyPending
		}
		// Stale: the deadline passed before a sweep got to it.
		if _, err := sm.expire(ctx, pending.ID); err != nil {
			return nil, fmt.Errorf("expire stale offer set: %w", err)
		}
	}

	participant, err := sm.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	contract, err := sm.store.GetContract(ctx, participantID)
	if err != nil {
		return nil, err
	}
	running := contract != nil && contract.Status == models.ContractActive && !contract.Expired(now)
	if running && mode == modeRequested && !(early && sm.allowEarlyRenewal) {
		return nil, &ActiveContractError{
			Organization: contract.Organization,
			Expiry:       contract.ExpiryTime,
			Remaining:    contract.Remaining(now),
		}
	}

	var current string
	if participant != nil && !participant.Unaffiliated {
		current = participant.Organization
	}
	score, err := sm.reputation.Score(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("reputation: %w", err)
	}
	pool, err := sm.directory.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	generated := sm.generator.Generate(offers.Input{Reputation: score, Current: current, Pool: pool}, sm.newRand())
	if len(generated) == 0 {
		return nil, ErrNoOrganizations
	}
	if want := wantedOffers(current); len(generated) < want {
		sm.logger.Warn("short offer set",
			zap.String("participant_id", participantID.String()),
			zap.Int("offers", len(generated)),
			zap.Int("wanted", want))
	}

	set := &models.OfferSet{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Offers:        generated,
		Status:        models.OfferPending,
		EarlyRenewal:  running,
		CreatedAt:     now,
		Deadline:      now.Add(sm.responseWindow),
	}
	if err := sm.store.CreateOfferSet(ctx, set, mode == modeForced); err != nil {
		if errors.Is(err, ErrPendingExists) {
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("create offer set: %w", err)
	}

	sm.metrics.transition(modeLabel(mode))
	sm.logger.Info("offer set created",
		zap.String("participant_id", participantID.String()),
		zap.String("offer_set_id", set.ID.String()),
		zap.Int("reputation", score),
		zap.Int("offers", len(set.Offers)),
		zap.Bool("early_renewal", set.EarlyRenewal),
		zap.Time("deadline", set.Deadline))
	sm.emit(ctx, models.Event{Kind: models.EventOffersAvailable, ParticipantID: participantID, OfferSet: set, At: now})
	if sm.onOfferSetCreated != nil {
		sm.onOfferSetCreated(*set)
	}
	return set, nil
}

// Accept signs the offer from organization in the participant's pending set.
func (sm *StateMachine) Accept(ctx context.Context, participantID uuid.UUID, organization string) (*models.Contract, error) {
	set, err := sm.store.GetPendingOfferSet(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, ErrNoPendingOffer
	}
	offer, ok := set.Find(organization)
	if !ok {
		return nil, ErrUnknownOffer
	}
	org, err := sm.directory.GetOrganization(ctx, offer.Organization)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("%w: %s is no longer on the roster", ErrUnknownOffer, offer.Organization)
	}

	now := sm.now()
	if set.PastDeadline(now) {
		// The deadline is authoritative even if no sweep has run yet.
		if _, err := sm.expire(ctx, set.ID); err != nil {
			return nil, err
		}
		return nil, ErrOfferAlreadyResolved
	}

	setID := set.ID
	c := newContract(participantID, offer.Terms, models.SourceOffer, &setID, now)
	won, err := sm.store.ResolveOfferSet(ctx, Resolution{
		OfferSetID:           set.ID,
		ParticipantID:        participantID,
		Expected:             models.OfferPending,
		Next:                 models.OfferAccepted,
		AcceptedOrganization: offer.Organization,
		At:                   now,
		Contract:             c,
	})
	if err != nil {
		return nil, fmt.Errorf("accept offer: %w", err)
	}
	if !won {
		sm.metrics.conflict("accept")
		return nil, ErrOfferAlreadyResolved
	}

	sm.metrics.transition("accept")
	sm.resolved(set.ID)
	sm.logger.Info("contract signed",
		zap.String("participant_id", participantID.String()),
		zap.String("offer_set_id", set.ID.String()),
		zap.String("organization", c.Organization),
		zap.Int("years", c.DurationYears),
		zap.Float64("compensation", c.Compensation))
	sm.emit(ctx, models.Event{Kind: models.EventContractSigned, ParticipantID: participantID, Contract: c, At: now})
	return c, nil
}

// Decline rejects every offer in the participant's pending set.
func (sm *StateMachine) Decline(ctx context.Context, participantID uuid.UUID) error {
	set, err := sm.store.GetPendingOfferSet(ctx, participantID)
	if err != nil {
		return err
	}
	if set == nil {
		return ErrNoPendingOffer
	}
	now := sm.now()
	if set.PastDeadline(now) {
		if _, err := sm.expire(ctx, set.ID); err != nil {
			return err
		}
		return ErrOfferAlreadyResolved
	}
	demote, err := sm.shouldDemote(ctx, set, now)
	if err != nil {
		return err
	}
	won, err := sm.store.ResolveOfferSet(ctx, Resolution{
		OfferSetID:    set.ID,
		ParticipantID: participantID,
		Expected:      models.OfferPending,
		Next:          models.OfferDeclined,
		At:            now,
		Demote:        demote,
	})
	if err != nil {
		return fmt.Errorf("decline offers: %w", err)
	}
	if !won {
		sm.metrics.conflict("decline")
		return ErrOfferAlreadyResolved
	}

	sm.metrics.transition("decline")
	sm.resolved(set.ID)
	sm.logger.Info("offers declined",
		zap.String("participant_id", participantID.String()),
		zap.String("offer_set_id", set.ID.String()),
		zap.Bool("demoted", demote))
	if demote {
		sm.emit(ctx, models.Event{Kind: models.EventBecameUnaffiliated, ParticipantID: participantID, OfferSet: resolvedCopy(set, models.OfferDeclined, now), Reason: "declined", At: now})
	}
	return nil
}

// OnDeadline expires an offer set whose response window has elapsed. It reports whether this
// call performed the transition; a set already resolved by another path is skipped.
func (sm *StateMachine) OnDeadline(ctx context.Context, offerSetID uuid.UUID) (bool, error) {
	return sm.expire(ctx, offerSetID)
}

func (sm *StateMachine) expire(ctx context.Context, offerSetID uuid.UUID) (bool, error) {
	set, err := sm.store.GetOfferSet(ctx, offerSetID)
	if err != nil {
		return false, err
	}
	now := sm.now()
	if set == nil || set.Status != models.OfferPending || !set.PastDeadline(now) {
		return false, nil
	}
	demote, err := sm.shouldDemote(ctx, set, now)
	if err != nil {
		return false, err
	}
	won, err := sm.store.ResolveOfferSet(ctx, Resolution{
		OfferSetID:    set.ID,
		ParticipantID: set.ParticipantID,
		Expected:      models.OfferPending,
		Next:          models.OfferExpired,
		At:            now,
		Demote:        demote,
	})
	if err != nil {
		return false, fmt.Errorf("expire offer set: %w", err)
	}
	if !won {
		sm.metrics.conflict("expire")
		return false, nil
	}

	sm.metrics.transition("expire")
	sm.resolved(set.ID)
	sm.logger.Info("offer set expired",
		zap.String("participant_id", set.ParticipantID.String()),
		zap.String("offer_set_id", set.ID.String()),
		zap.Bool("demoted", demote))
	if demote {
		sm.emit(ctx, models.Event{Kind: models.EventBecameUnaffiliated, ParticipantID: set.ParticipantID, OfferSet: resolvedCopy(set, models.OfferExpired, now), Reason: "deadline", At: now})
	}
	return true, nil
}

// OnContractExpiry opens negotiations for a contract that has run out. It reports whether an
// offer set was created.
func (sm *StateMachine) OnContractExpiry(ctx context.Context, participantID uuid.UUID) (bool, error) {
	c, err := sm.store.GetContract(ctx, participantID)
	if err != nil {
		return false, err
	}
	if c == nil || c.Status != models.ContractActive || !c.Expired(sm.now()) {
		return false, nil
	}
	pending, err := sm.store.GetPendingOfferSet(ctx, participantID)
	if err != nil {
		return false, err
	}
	if pending != nil {
		return false, nil
	}
	if _, err := sm.requestOffers(ctx, participantID, modeExpiry, false); err != nil {
		if errors.Is(err, ErrAlreadyPending) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// State is the participant's position in the lifecycle. StateExpiring is an active
// contract past expiry that no sweep has picked up yet.
type State string

const (
	StateUnaffiliated State = "unaffiliated"
	StateActive       State = "active"
	StateExpiring     State = "expiring"
	StatePendingOffer State = "pending_offer"
)

// ParticipantStatus is a read-only view of a participant's lifecycle.
type ParticipantStatus struct {
	ParticipantID uuid.UUID        `json:"participant_id"`
	State         State            `json:"state"`
	Contract      *models.Contract `json:"contract,omitempty"`
	OfferSet      *models.OfferSet `json:"offer_set,omitempty"`
	Remaining     time.Duration    `json:"remaining_ns"`
}

// Status derives the participant's current state from the store.
func (sm *StateMachine) Status(ctx context.Context, participantID uuid.UUID) (*ParticipantStatus, error) {
	c, err := sm.store.GetContract(ctx, participantID)
	if err != nil {
		return nil, err
	}
	set, err := sm.store.GetPendingOfferSet(ctx, participantID)
	if err != nil {
		return nil, err
	}
	now := sm.now()
	st := &ParticipantStatus{ParticipantID: participantID, State: StateUnaffiliated, Contract: c, OfferSet: set}
	switch {
	case set != nil:
		st.State = StatePendingOffer
		if d := set.Deadline.Sub(now); d > 0 {
			st.Remaining = d
		}
	case c != nil && c.Status == models.ContractActive && c.Expired(now):
		st.State = StateExpiring
	case c != nil && c.Status == models.ContractActive:
		st.State = StateActive
		st.Remaining = c.Remaining(now)
	}
	return st, nil
}

// History lists every contract the participant has held, newest first.
func (sm *StateMachine) History(ctx context.Context, participantID uuid.UUID) ([]models.Contract, error) {
	return sm.store.ListContracts(ctx, participantID)
}

// shouldDemote is false only for an early-renewal set while the contract it would renew is still running.
func (sm *StateMachine) shouldDemote(ctx context.Context, set *models.OfferSet, now time.Time) (bool, error) {
	if !set.EarlyRenewal {
		return true, nil
	}
	c, err := sm.store.GetContract(ctx, set.ParticipantID)
	if err != nil {
		return false, err
	}
	running := c != nil && c.Status == models.ContractActive && !c.Expired(now)
	return !running, nil
}

func (sm *StateMachine) emit(ctx context.Context, ev models.Event) {
	if sm.notifier == nil {
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	sm.notifier.Notify(ctx, ev)
}

func (sm *StateMachine) resolved(offerSetID uuid.UUID) {
	if sm.onOfferSetResolved != nil {
		sm.onOfferSetResolved(offerSetID)
	}
}

// resolvedCopy returns set as it reads after the committed transition.
func resolvedCopy(set *models.OfferSet, status models.OfferStatus, at time.Time) *models.OfferSet {
	out := *set
	out.Status = status
	out.ResolvedAt = &at
	return &out
}

func newContract(participantID uuid.UUID, terms models.Terms, source models.ContractSource, offerSetID *uuid.UUID, now time.Time) *models.Contract {
	expiry, years := timemodel.YearsToExpiry(now, terms.DurationYears)
	terms.DurationYears = years
	terms.Clauses = append([]models.Clause(nil), terms.Clauses...)
	return &models.Contract{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Terms:         terms,
		Status:        models.ContractActive,
		Source:        source,
		OfferSetID:    offerSetID,
		StartTime:     now,
		ExpiryTime:    expiry,
		CreatedAt:     now,
	}
}

func wantedOffers(current string) int {
	if current == "" {
		return 2
	}
	return 3
}

func modeLabel(m requestMode) string {
	switch m {
	case modeExpiry:
		return "offers_on_expiry"
	case modeForced:
		return "offers_forced"
	default:
		return "offers_requested"
	}
}
