package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadlineSink records the deadline passed with every write.
type deadlineSink struct {
	mu        sync.Mutex
	deadlines []time.Time
}

func (s *deadlineSink) WriteFrame(_ []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines = append(s.deadlines, deadline)
	return nil
}

func (s *deadlineSink) Close() {}

func (s *deadlineSink) recorded() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.deadlines...)
}

func TestClientWriter_DeadlineFollowsWallClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(1984, 4, 4, 0, 0, 0, 0, time.UTC))
	sink := &deadlineSink{}

	cw := newClientWriter(sink, clock, 4, 5*time.Second, nil, nil)
	t.Cleanup(func() { cw.close(nil) })

	before := time.Now()
	require.True(t, cw.enqueue(outbound{frame: heartbeatFrame}))
	require.Eventually(t, func() bool { return len(sink.recorded()) == 1 }, time.Second, time.Millisecond)

	deadline := sink.recorded()[0]
	assert.False(t, deadline.Before(before.Add(5*time.Second)))
	assert.True(t, deadline.Before(time.Now().Add(6*time.Second)))

	// activity is still tracked on the injected clock
	assert.Equal(t, clock.Now(), cw.lastActivityAt())
}

func TestClientWriter_CloseWritesFinalFrame(t *testing.T) {
	sink := &recordingSink{}
	cw := newClientWriter(sink, clockwork.NewFakeClock(), 4, time.Second, nil, nil)

	require.True(t, cw.enqueue(outbound{frame: []byte("data: 1\n\n")}))
	cw.close([]byte("data: bye\n\n"))
	cw.close(nil)

	frames := sink.rawFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, "data: bye\n\n", string(frames[1]))
	assert.True(t, sink.isClosed())
	assert.False(t, cw.enqueue(outbound{frame: heartbeatFrame}), "closed writers refuse frames")
}
