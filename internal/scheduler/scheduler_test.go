package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterleague/backend/internal/contracts"
	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/internal/offers"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type roster []models.Organization

func (r roster) ListOrganizations(context.Context) ([]models.Organization, error) { return r, nil }

func (r roster) GetOrganization(_ context.Context, name string) (*models.Organization, error) {
	for _, o := range r {
		if o.Matches(name) {
			return &o, nil
		}
	}
	return nil, nil
}

type flatReputation int

func (f flatReputation) Score(context.Context, uuid.UUID) (int, error) { return int(f), nil }

func newLifecycle(t *testing.T) (*contracts.StateMachine, *contracts.MemoryStore, *clock) {
	t.Helper()
	store := contracts.NewMemoryStore()
	clk := &clock{now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	orgs := roster{{Name: "Harbor City"}, {Name: "Northwind"}, {Name: "Summit"}, {Name: "Lakeside"}}
	var seed atomic.Uint64
	sm := contracts.NewStateMachine(store, orgs, flatReputation(40), offers.NewGenerator(offers.DefaultTuning()), nil, contracts.Options{
		ResponseWindow: 72 * time.Hour,
		Now:            clk.Now,
		NewRand:        func() *rand.Rand { return offers.Seeded(seed.Add(1)) },
	})
	return sm, store, clk
}

func TestRunOnce_DeadlineSweepIsIdempotent(t *testing.T) {
	sm, store, clk := newLifecycle(t)
	ctx := context.Background()
	id := uuid.New()
	_, err := sm.Initiate(ctx, id)
	require.NoError(t, err)
	clk.Advance(14 * 24 * time.Hour)
	set, err := sm.RequestOffers(ctx, id, contracts.RequestOptions{})
	require.NoError(t, err)

	s := New(sm, store, Config{Now: clk.Now}, nil, nil)

	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Deadlines.Scanned, "deadline not reached")

	clk.Advance(72*time.Hour + time.Second)
	rep, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 1, Resolved: 1}, rep.Deadlines)
	assert.Zero(t, rep.Contracts.Scanned)

	got, err := store.GetOfferSet(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferExpired, got.Status)
	p, err := store.GetParticipant(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Unaffiliated)

	rep, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
}

func TestSweepContracts_OpensNegotiationsInBatches(t *testing.T) {
	sm, store, clk := newLifecycle(t)
	ctx := context.Background()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		_, err := sm.Initiate(ctx, ids[i])
		require.NoError(t, err)
	}
	clk.Advance(14 * 24 * time.Hour)

	s := New(sm, store, Config{Now: clk.Now, BatchSize: 2}, nil, nil)
	res, err := s.SweepContracts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Resolved)
	assert.Zero(t, res.Failed)
	for _, id := range ids {
		assert.Equal(t, 1, store.PendingCount(id))
	}

	res, err = s.SweepContracts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

type fakeSource struct {
	sets []models.OfferSet
	err  error
}

func (f *fakeSource) ScanExpiredContracts(context.Context, time.Time, int) ([]models.Contract, error) {
	return nil, f.err
}

func (f *fakeSource) ScanExpiredOfferSets(context.Context, time.Time, int) ([]models.OfferSet, error) {
	return f.sets, f.err
}

type fakeEngine struct {
	mu        sync.Mutex
	failOn    map[uuid.UUID]bool
	deadlines []uuid.UUID
}

func (f *fakeEngine) OnDeadline(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines = append(f.deadlines, id)
	if f.failOn[id] {
		return false, errors.New("write conflict")
	}
	return true, nil
}

func (f *fakeEngine) OnContractExpiry(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deadlines)
}

func TestSweepDeadlines_IsolatesFailures(t *testing.T) {
	sets := []models.OfferSet{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	engine := &fakeEngine{failOn: map[uuid.UUID]bool{sets[1].ID: true}}
	s := New(engine, &fakeSource{sets: sets}, Config{}, nil, nil)

	res, err := s.SweepDeadlines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Resolved: 2, Failed: 1}, res)
	assert.Len(t, engine.deadlines, 3)
}

func TestRunOnce_ScanError(t *testing.T) {
	s := New(&fakeEngine{}, &fakeSource{err: errors.New("db down")}, Config{}, nil, nil)
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	engine := &fakeEngine{}
	src := &fakeSource{sets: []models.OfferSet{{ID: uuid.New()}}}
	s := New(engine, src, Config{ContractInterval: time.Hour, DeadlineInterval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return engine.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Kick()
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTimers(t *testing.T) {
	fired := make(chan uuid.UUID, 4)
	timers := NewTimers(func(_ context.Context, id uuid.UUID) (bool, error) {
		fired <- id
		return true, nil
	}, nil, nil, nil)
	timers.grace = 0

	due := models.OfferSet{ID: uuid.New(), Deadline: time.Now().Add(-time.Second)}
	later := models.OfferSet{ID: uuid.New(), Deadline: time.Now().Add(time.Hour)}
	timers.Arm(due)
	timers.Arm(later)

	select {
	case id := <-fired:
		assert.Equal(t, due.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	require.Eventually(t, func() bool { return timers.Len() == 1 }, time.Second, 5*time.Millisecond)

	timers.Disarm(later.ID)
	assert.Zero(t, timers.Len())

	timers.Stop()
	timers.Arm(due)
	assert.Zero(t, timers.Len())
}
