package contracts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rosterleague/backend/internal/models"
)

// MemoryStore keeps all records in process memory. Used for tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu           sync.Mutex
	participants map[uuid.UUID]models.Participant
	contracts    map[uuid.UUID]models.Contract
	offerSets    map[uuid.UUID]models.OfferSet
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[uuid.UUID]models.Participant),
		contracts:    make(map[uuid.UUID]models.Contract),
		offerSets:    make(map[uuid.UUID]models.OfferSet),
	}
}

func (m *MemoryStore) GetParticipant(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) GetContract(_ context.Context, participantID uuid.UUID) (*models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.currentLocked(participantID)
	if c == nil {
		return nil, nil
	}
	out := cloneContract(*c)
	return &out, nil
}

func (m *MemoryStore) GetPendingOfferSet(_ context.Context, participantID uuid.UUID) (*models.OfferSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.pendingLocked(participantID)
	if s == nil {
		return nil, nil
	}
	out := cloneOfferSet(*s)
	return &out, nil
}

func (m *MemoryStore) GetOfferSet(_ context.Context, id uuid.UUID) (*models.OfferSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.offerSets[id]
	if !ok {
		return nil, nil
	}
	out := cloneOfferSet(s)
	return &out, nil
}

func (m *MemoryStore) ListContracts(_ context.Context, participantID uuid.UUID) ([]models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Contract
	for _, c := range m.contracts {
		if c.ParticipantID == participantID {
			out = append(out, cloneContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateEntryContract(_ context.Context, c *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.currentLocked(c.ParticipantID); cur != nil && cur.Status == models.ContractActive {
		return ErrActiveContractExists
	}
	p, ok := m.participants[c.ParticipantID]
	if !ok {
		p = models.Participant{ID: c.ParticipantID, EnrolledAt: c.CreatedAt}
	}
	m.contracts[c.ID] = cloneContract(*c)
	m.affiliateLocked(&p, c, c.CreatedAt)
	return nil
}

func (m *MemoryStore) CreateOfferSet(_ context.Context, set *models.OfferSet, replacePending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev := m.pendingLocked(set.ParticipantID); prev != nil {
		if !replacePending {
			return ErrPendingExists
		}
		at := set.CreatedAt
		prev.Status = models.OfferExpired
		prev.ResolvedAt = &at
		m.offerSets[prev.ID] = *prev
	}
	m.offerSets[set.ID] = cloneOfferSet(*set)
	return nil
}

func (m *MemoryStore) ResolveOfferSet(_ context.Context, r Resolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.offerSets[r.OfferSetID]
	if !ok || s.Status != r.Expected {
		return false, nil
	}
	at := r.At
	s.Status = r.Next
	s.ResolvedAt = &at
	s.AcceptedOrganization = r.AcceptedOrganization
	m.offerSets[s.ID] = s

	p, ok := m.participants[r.ParticipantID]
	if !ok {
		p = models.Participant{ID: r.ParticipantID, EnrolledAt: r.At}
	}
	switch {
	case r.Contract != nil:
		m.expireCurrentLocked(r.ParticipantID)
		m.contracts[r.Contract.ID] = cloneContract(*r.Contract)
		m.affiliateLocked(&p, r.Contract, r.At)
	case r.Demote:
		m.expireCurrentLocked(r.ParticipantID)
		p.Organization = ""
		p.Unaffiliated = true
		p.UpdatedAt = r.At
		m.participants[p.ID] = p
	}
	return true, nil
}

func (m *MemoryStore) ScanExpiredContracts(_ context.Context, now time.Time, limit int) ([]models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Contract
	for _, c := range m.contracts {
		if c.Status != models.ContractActive || c.ExpiryTime.After(now) {
			continue
		}
		if m.pendingLocked(c.ParticipantID) != nil {
			continue
		}
		out = append(out, cloneContract(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryTime.Before(out[j].ExpiryTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ScanExpiredOfferSets(_ context.Context, now time.Time, limit int) ([]models.OfferSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OfferSet
	for _, s := range m.offerSets {
		if s.Status == models.OfferPending && !s.Deadline.After(now) {
			out = append(out, cloneOfferSet(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingCount returns how many pending sets a participant has. Exposed for invariant checks.
func (m *MemoryStore) PendingCount(participantID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.offerSets {
		if s.ParticipantID == participantID && s.Status == models.OfferPending {
			n++
		}
	}
	return n
}

func (m *MemoryStore) currentLocked(participantID uuid.UUID) *models.Contract {
	p, ok := m.participants[participantID]
	if !ok || p.CurrentContractID == nil {
		return nil
	}
	c, ok := m.contracts[*p.CurrentContractID]
	if !ok {
		return nil
	}
	return &c
}

func (m *MemoryStore) pendingLocked(participantID uuid.UUID) *models.OfferSet {
	for _, s := range m.offerSets {
		if s.ParticipantID == participantID && s.Status == models.OfferPending {
			return &s
		}
	}
	return nil
}

func (m *MemoryStore) expireCurrentLocked(participantID uuid.UUID) {
	if c := m.currentLocked(participantID); c != nil && c.Status == models.ContractActive {
		c.Status = models.ContractExpired
		m.contracts[c.ID] = *c
	}
}

func (m *MemoryStore) affiliateLocked(p *models.Participant, c *models.Contract, at time.Time) {
	id := c.ID
	p.Organization = c.Organization
	p.Unaffiliated = false
	p.CurrentContractID = &id
	p.UpdatedAt = at
	m.participants[p.ID] = *p
}

func cloneContract(c models.Contract) models.Contract {
	c.Clauses = append([]models.Clause(nil), c.Clauses...)
	return c
}

func cloneOfferSet(s models.OfferSet) models.OfferSet {
	offers := make([]models.Offer, len(s.Offers))
	for i, o := range s.Offers {
		o.Clauses = append([]models.Clause(nil), o.Clauses...)
		offers[i] = o
	}
	s.Offers = offers
	return s
}
