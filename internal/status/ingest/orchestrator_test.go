package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smregister/internal/platform/kafka/consumer"
	"smregister/internal/platform/lifecycle"
)

// fakeSource redelivers everything after the last committed position on each subscribe.
type fakeSource struct {
	name      string
	batchSize int

	mu            sync.Mutex
	records       []*consumer.Message
	subscribed    bool
	pos           int
	committed     int
	subscribes    int
	unsubscribes  int
	commits       int
	failSubscribe int
}

func newFakeSource(name string, n, batchSize int) *fakeSource {
	s := &fakeSource{name: name, batchSize: batchSize}
	for i := 0; i < n; i++ {
		s.records = append(s.records, &consumer.Message{Topic: name, Offset: int64(i), Value: []byte(fmt.Sprintf("%d", i))})
	}
	return s
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Subscribe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubscribe > 0 {
		s.failSubscribe--
		return errors.New("broker unreachable")
	}
	if !s.subscribed {
		s.subscribed = true
		s.subscribes++
		s.pos = s.committed
	}
	return nil
}

func (s *fakeSource) Poll(context.Context) ([]*consumer.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.subscribed {
		return nil, errors.New("not subscribed")
	}
	end := min(s.pos+s.batchSize, len(s.records))
	batch := s.records[s.pos:end]
	s.pos = end
	return batch, nil
}

func (s *fakeSource) Commit(context.Context, []*consumer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = s.pos
	s.commits++
	return nil
}

func (s *fakeSource) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		s.subscribed = false
		s.unsubscribes++
	}
}

func (s *fakeSource) snapshot() (committed, subscribes, commits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed, s.subscribes, s.commits
}

type recordingHandler struct {
	mu      sync.Mutex
	seen    []int64
	failOn  map[int64]int
	panicOn int64
}

func (h *recordingHandler) Handle(_ context.Context, msg *consumer.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn >= 0 && msg.Offset == h.panicOn {
		panic("handler bug")
	}
	if h.failOn[msg.Offset] > 0 {
		h.failOn[msg.Offset]--
		return errors.New("database unavailable")
	}
	h.seen = append(h.seen, msg.Offset)
	return nil
}

func (h *recordingHandler) offsets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.seen...)
}

func newHandler() *recordingHandler {
	return &recordingHandler{failOn: map[int64]int{}, panicOn: -1}
}

func readyState() *lifecycle.State {
	s := lifecycle.New()
	s.SetReady(true)
	return s
}

func newOrchestrator(t *testing.T, state *lifecycle.State, bindings ...Binding) *Orchestrator {
	t.Helper()
	o, err := New(state, bindings,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBackoff(5*time.Millisecond),
		WithIdleWait(time.Millisecond),
	)
	require.NoError(t, err)
	return o
}

func runAsync(o *Orchestrator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	return done
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	_, err = New(lifecycle.New(), []Binding{{Source: newFakeSource("s", 0, 1)}})
	require.Error(t, err)
}

func TestHandlesInOrderAndCommitsBatches(t *testing.T) {
	state := readyState()
	source := newFakeSource("primary", 5, 2)
	handler := newHandler()
	done := runAsync(newOrchestrator(t, state, Binding{Source: source, Handler: handler}))

	require.Eventually(t, func() bool {
		committed, _, _ := source.snapshot()
		return committed == 5
	}, 2*time.Second, time.Millisecond)

	state.Shutdown()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, handler.offsets())
	_, subscribes, commits := source.snapshot()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 3, commits, "empty polls are never committed")
}

func TestFailedBatchIsRedeliveredAfterResubscribe(t *testing.T) {
	state := readyState()
	source := newFakeSource("primary", 4, 2)
	handler := newHandler()
	handler.failOn[3] = 1
	done := runAsync(newOrchestrator(t, state, Binding{Source: source, Handler: handler}))

	require.Eventually(t, func() bool {
		committed, _, _ := source.snapshot()
		return committed == 4
	}, 2*time.Second, time.Millisecond)

	state.Shutdown()
	require.NoError(t, <-done)

	// offset 2 was handled before 3 failed, so it is seen again on redelivery
	assert.Equal(t, []int64{0, 1, 2, 2, 3}, handler.offsets())
	_, subscribes, _ := source.snapshot()
	assert.Equal(t, 2, subscribes)
}

func TestSubscribeFailureBacksOff(t *testing.T) {
	state := readyState()
	source := newFakeSource("primary", 1, 1)
	source.failSubscribe = 2
	done := runAsync(newOrchestrator(t, state, Binding{Source: source, Handler: newHandler()}))

	require.Eventually(t, func() bool {
		committed, _, _ := source.snapshot()
		return committed == 1
	}, 2*time.Second, time.Millisecond)

	state.Shutdown()
	require.NoError(t, <-done)
}

func TestSourcesAreIndependent(t *testing.T) {
	state := readyState()
	healthy := newFakeSource("primary", 3, 3)
	failing := newFakeSource("mirror", 3, 3)
	failingHandler := newHandler()
	failingHandler.failOn[0] = 1 << 30

	done := runAsync(newOrchestrator(t, state,
		Binding{Source: healthy, Handler: newHandler()},
		Binding{Source: failing, Handler: failingHandler},
	))

	require.Eventually(t, func() bool {
		committed, _, _ := healthy.snapshot()
		return committed == 3
	}, 2*time.Second, time.Millisecond)

	state.Shutdown()
	require.NoError(t, <-done)

	committed, subscribes, _ := failing.snapshot()
	assert.Zero(t, committed)
	assert.Greater(t, subscribes, 1)
}

func TestNotReadyDoesNotConsume(t *testing.T) {
	state := lifecycle.New()
	source := newFakeSource("primary", 2, 2)
	done := runAsync(newOrchestrator(t, state, Binding{Source: source, Handler: newHandler()}))

	time.Sleep(20 * time.Millisecond)
	_, subscribes, _ := source.snapshot()
	assert.Zero(t, subscribes)

	state.SetReady(true)
	require.Eventually(t, func() bool {
		committed, _, _ := source.snapshot()
		return committed == 2
	}, 2*time.Second, time.Millisecond)

	state.Shutdown()
	require.NoError(t, <-done)
}

func TestLoopThatDiesFlipsStateNotAlive(t *testing.T) {
	state := readyState()
	handler := newHandler()
	handler.panicOn = 0
	done := runAsync(newOrchestrator(t, state, Binding{Source: newFakeSource("primary", 1, 1), Handler: handler}))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stopped unexpectedly")
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.False(t, state.Alive())
}

func TestContextCancellationStopsLoops(t *testing.T) {
	state := readyState()
	o := newOrchestrator(t, state, Binding{Source: newFakeSource("primary", 0, 1), Handler: newHandler()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
