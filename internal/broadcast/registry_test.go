package broadcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// recordingSink stores every frame written to it. failAfter > 0 makes the
// sink fail once that many frames have been written.
type recordingSink struct {
	mu        sync.Mutex
	frames    [][]byte
	failAfter int
	closed    bool
}

func (s *recordingSink) WriteFrame(frame []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.frames) >= s.failAfter {
		return errBrokenPipe
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) rawFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) envelopes() []domain.Envelope {
	var out []domain.Envelope
	for _, frame := range s.rawFrames() {
		if !bytes.HasPrefix(frame, []byte("data: ")) {
			continue
		}
		var env domain.Envelope
		if err := json.Unmarshal(bytes.TrimSpace(frame[len("data: "):]), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

func (s *recordingSink) hasEnvelope(id string) bool {
	for _, env := range s.envelopes() {
		if env.ID == id {
			return true
		}
	}
	return false
}

func (s *recordingSink) lastEnvelope() (domain.Envelope, bool) {
	envs := s.envelopes()
	if len(envs) == 0 {
		return domain.Envelope{}, false
	}
	return envs[len(envs)-1], true
}

func testRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewStreamMetrics(prometheus.NewRegistry())
	}
	r := NewRegistry(opts)
	t.Cleanup(r.Stop)
	return r
}

func register(t *testing.T, r *Registry, sink *recordingSink) *Connection {
	t.Helper()
	conn, err := r.Register(sink, ConnectionInfo{RemoteAddr: "127.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.envelopes()) >= 1 }, time.Second, time.Millisecond)
	return conn
}

func waitClosed(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s was not closed", conn.ID())
	}
}

func TestRegistry_RegisterSendsConnectedEnvelope(t *testing.T) {
	r := testRegistry(t, Options{ServerVersion: "2.3.4"})
	sink := &recordingSink{}

	conn := register(t, r, sink)

	env, ok := sink.lastEnvelope()
	require.True(t, ok)
	assert.Equal(t, domain.CategorySystem, env.Category)
	assert.Equal(t, domain.SystemConnected, env.Event)
	assert.Equal(t, conn.ID(), env.Data.ConnectionID)
	assert.Equal(t, "2.3.4", env.Data.ServerVersion)
	assert.Equal(t, domain.SupportedEvents(), env.Data.SupportedEvents)
	assert.Equal(t, domain.SourceInternal, env.Metadata.Source)
	assert.Equal(t, 1, r.Size())
	assert.Equal(t, "127.0.0.1", conn.Info().RemoteAddr)
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := testRegistry(t, Options{})

	seen := make(map[string]struct{})
	for range 20 {
		conn := register(t, r, &recordingSink{})
		_, dup := seen[conn.ID()]
		require.False(t, dup)
		seen[conn.ID()] = struct{}{}
	}
	assert.Len(t, r.IDs(), 20)
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	m := metrics.NewStreamMetrics(prometheus.NewRegistry())
	r := testRegistry(t, Options{Capacity: 2, Metrics: m})

	register(t, r, &recordingSink{})
	register(t, r, &recordingSink{})

	conn, err := r.Register(&recordingSink{}, ConnectionInfo{})
	assert.Nil(t, conn)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Limit)

	assert.Equal(t, 2, r.Size())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RejectedConnections.WithLabelValues("capacity")))
}

func TestRegistry_CapacityFreedByUnregister(t *testing.T) {
	r := testRegistry(t, Options{Capacity: 1})

	first := register(t, r, &recordingSink{})
	_, err := r.Register(&recordingSink{}, ConnectionInfo{})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	require.True(t, r.Unregister(first.ID(), ReasonClientClosed))
	register(t, r, &recordingSink{})
	assert.Equal(t, 1, r.Size())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := testRegistry(t, Options{})
	sink := &recordingSink{}
	conn := register(t, r, sink)

	assert.True(t, r.Unregister(conn.ID(), ReasonClientClosed))
	assert.False(t, r.Unregister(conn.ID(), ReasonClientClosed))
	assert.False(t, r.Unregister("does-not-exist", ReasonClientClosed))

	waitClosed(t, conn)
	assert.True(t, sink.isClosed())
	assert.Equal(t, 0, r.Size())

	env, ok := sink.lastEnvelope()
	require.True(t, ok)
	assert.Equal(t, domain.SystemDisconnected, env.Event)
	assert.Equal(t, ReasonClientClosed, env.Data.Reason)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, 0, stats.ActiveConnections)
	assert.Equal(t, int64(0), stats.ErrorCount)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := testRegistry(t, Options{Capacity: 100})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := r.Register(&recordingSink{}, ConnectionInfo{})
			if err != nil {
				return
			}
			r.Unregister(conn.ID(), ReasonClientClosed)
			r.Unregister(conn.ID(), ReasonClientClosed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Size())
	assert.Equal(t, int64(50), r.Stats().TotalConnections)
}

func TestRegistry_WriteFailureUnregisters(t *testing.T) {
	r := testRegistry(t, Options{})
	sink := &recordingSink{failAfter: 1}
	conn := register(t, r, sink)

	b := NewBroadcaster(r)
	require.NoError(t, b.Broadcast(t.Context(), testEnvelope("e1", domain.EventRoomStarted)))

	waitClosed(t, conn)
	assert.Equal(t, 0, r.Size())
	assert.Equal(t, int64(1), r.Stats().ErrorCount)
	assert.False(t, sink.hasEnvelope("e1"))

	// a broken sink gets no further writes, not even the disconnect notice
	assert.Len(t, sink.rawFrames(), 1)
	assert.True(t, sink.isClosed())
}

func TestRegistry_EvictsIdleConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := metrics.NewStreamMetrics(prometheus.NewRegistry())
	r := testRegistry(t, Options{Clock: clock, Metrics: m})

	idleSink := &recordingSink{}
	idle := register(t, r, idleSink)

	clock.Advance(6 * time.Minute)

	freshSink := &recordingSink{}
	fresh := register(t, r, freshSink)

	evicted := r.Evict(24*time.Hour, 5*time.Minute)
	require.Len(t, evicted, 1)
	assert.Equal(t, idle.ID(), evicted[0].ID)
	assert.Equal(t, ReasonIdle, evicted[0].Reason)

	waitClosed(t, idle)
	env, ok := idleSink.lastEnvelope()
	require.True(t, ok)
	assert.Equal(t, domain.SystemDisconnected, env.Event)
	assert.Equal(t, ReasonIdle, env.Data.Reason)

	assert.Equal(t, []string{fresh.ID()}, r.IDs())
	assert.Equal(t, int64(0), r.Stats().ErrorCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Evictions.WithLabelValues("idle")))
}

func TestRegistry_EvictsOldConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := testRegistry(t, Options{Clock: clock})
	b := NewBroadcaster(r)

	sink := &recordingSink{}
	conn := register(t, r, sink)

	// keep the connection active so only its age counts
	for i := range 25 {
		clock.Advance(time.Hour)
		_, err := b.Heartbeat(t.Context())
		require.NoError(t, err)
		want := clock.Now()
		require.Eventually(t, func() bool { return !conn.LastActivity().Before(want) }, time.Second, time.Millisecond, "heartbeat %d", i)
	}

	evicted := r.Evict(24*time.Hour, 5*time.Minute)
	require.Len(t, evicted, 1)
	assert.Equal(t, ReasonMaxAge, evicted[0].Reason)
	waitClosed(t, conn)
}

func TestRegistry_LastActivityAdvancesOnWrite(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := testRegistry(t, Options{Clock: clock})
	b := NewBroadcaster(r)

	sink := &recordingSink{}
	conn := register(t, r, sink)
	before := conn.LastActivity()

	clock.Advance(time.Minute)
	require.True(t, b.SendTo(conn.ID(), testEnvelope("e1", domain.EventRoomStarted)))
	require.Eventually(t, func() bool { return sink.hasEnvelope("e1") }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return conn.LastActivity().Equal(before.Add(time.Minute)) }, time.Second, time.Millisecond)
}

func TestRegistry_StopClosesEveryConnection(t *testing.T) {
	r := NewRegistry(Options{})
	sinks := []*recordingSink{{}, {}, {}}
	conns := make([]*Connection, 0, len(sinks))
	for _, sink := range sinks {
		conns = append(conns, register(t, r, sink))
	}

	r.Stop()

	for i, conn := range conns {
		waitClosed(t, conn)
		env, ok := sinks[i].lastEnvelope()
		require.True(t, ok)
		assert.Equal(t, domain.SystemDisconnected, env.Event)
		assert.Equal(t, ReasonServerClosed, env.Data.Reason)
	}

	_, err := r.Register(&recordingSink{}, ConnectionInfo{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, -1, r.Size())

	// second Stop is a no-op
	r.Stop()
}

func TestRegistry_StatsMessagesPerSecond(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := testRegistry(t, Options{Clock: clock})

	register(t, r, &recordingSink{})
	register(t, r, &recordingSink{})
	clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return r.Stats().MessagesSent == 2 }, time.Second, time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.InDelta(t, 0.5, stats.MessagesPerSecond, 0.0001)
}
