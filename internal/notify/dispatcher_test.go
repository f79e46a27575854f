package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/pkg/queue"
)

type memSink struct {
	mu   sync.Mutex
	got  []models.Event
	fail bool
}

func (s *memSink) Deliver(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func event(kind models.EventKind) models.Event {
	return models.Event{ID: uuid.New(), Kind: kind, ParticipantID: uuid.New(), At: time.Now()}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(sink, 8, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Run(ctx); close(done) }()

	first, second := event(models.EventOffersAvailable), event(models.EventContractSigned)
	d.Notify(ctx, first)
	d.Notify(ctx, second)
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, first.ID, sink.got[0].ID)
	assert.Equal(t, second.ID, sink.got[1].ID)
}

func TestDispatcher_NeverBlocks(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(&memSink{}, 2, metrics, zap.New(core))

	// Nothing is consuming, so the third event overflows the buffer.
	start := time.Now()
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), event(models.EventBecameUnaffiliated))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, logs.FilterMessage("notification dropped, buffer full").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues(string(models.EventBecameUnaffiliated), "dropped")))
}

func TestDispatcher_SinkFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sink := &memSink{fail: true}
	d := NewDispatcher(sink, 4, metrics, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Run(ctx); close(done) }()

	d.Notify(ctx, event(models.EventContractSigned))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.outcomes.WithLabelValues(string(models.EventContractSigned), "failed")) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(sink, 8, nil, nil)
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), event(models.EventOffersAvailable))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 3, sink.count())
}

type fakeEnqueuer struct {
	jobs []interface{}
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, jobType queue.JobType, payload interface{}) (*queue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, payload)
	return &queue.Job{ID: uuid.NewString(), Type: jobType}, nil
}

func TestQueueSink(t *testing.T) {
	q := &fakeEnqueuer{}
	sink := NewQueueSink(q)
	ev := event(models.EventEntryContractIssued)
	require.NoError(t, sink.Deliver(context.Background(), ev))
	require.Len(t, q.jobs, 1)
	assert.Equal(t, ev, q.jobs[0])

	q.err = errors.New("redis down")
	assert.Error(t, sink.Deliver(context.Background(), ev))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	ev := event(models.EventContractSigned)
	ev.Contract = &models.Contract{Terms: models.Terms{Organization: "Northwind"}}
	require.NoError(t, sink.Deliver(context.Background(), ev))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Northwind", logs.All()[0].ContextMap()["organization"])
}
