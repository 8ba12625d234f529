package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/domain"
)

const (
	defaultQueueDepth   = 64
	defaultWriteTimeout = 10 * time.Second
)

type outbound struct {
	frame    []byte
	envelope bool
}

// clientWriter is the only goroutine that touches a connection's sink.
type clientWriter struct {
	sink          Sink
	clock         clockwork.Clock
	writeTimeout  time.Duration
	sendChannel   chan outbound
	doneChannel   chan struct{}
	closedChannel chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	failed        atomic.Bool
	lastActivity  time.Time
	activityMutex sync.Mutex
	onWritten     func(envelope bool, elapsed time.Duration)
	onFailure     func(err error)
}

func newClientWriter(sink Sink, clock clockwork.Clock, queueDepth int, writeTimeout time.Duration, onWritten func(bool, time.Duration), onFailure func(error)) *clientWriter {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	cw := &clientWriter{
		sink:          sink,
		clock:         clock,
		writeTimeout:  writeTimeout,
		sendChannel:   make(chan outbound, queueDepth),
		doneChannel:   make(chan struct{}),
		closedChannel: make(chan struct{}),
		lastActivity:  clock.Now(),
		onWritten:     onWritten,
		onFailure:     onFailure,
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			if err := cw.write(msg); err != nil {
				cw.failed.Store(true)
				if cw.onFailure != nil {
					cw.onFailure(err)
				}
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue never blocks. A full queue or a stopped writer reports false.
func (cw *clientWriter) enqueue(msg outbound) bool {
	if cw.failed.Load() {
		return false
	}
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) write(msg outbound) error {
	start := cw.clock.Now()
	// Socket deadlines are compared against the wall clock, never the injected one.
	if err := cw.sink.WriteFrame(msg.frame, time.Now().Add(cw.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrWriteFailure, err)
	}
	cw.recordActivity(start)
	if cw.onWritten != nil {
		cw.onWritten(msg.envelope, cw.clock.Since(start))
	}
	return nil
}

// close stops the writer, flushes frames still queued, writes the final frame on a best-effort
// basis and releases the sink. It blocks until the sink is released and is safe to call twice.
func (cw *clientWriter) close(final []byte) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		cw.wg.Wait()

		if !cw.failed.Load() {
			cw.drain()
		}
		if !cw.failed.Load() && final != nil {
			_ = cw.write(outbound{frame: final, envelope: true})
		}

		cw.sink.Close()
		close(cw.closedChannel)
	})
	<-cw.closedChannel
}

func (cw *clientWriter) drain() {
	for {
		select {
		case msg := <-cw.sendChannel:
			if err := cw.write(msg); err != nil {
				cw.failed.Store(true)
				return
			}
		default:
			return
		}
	}
}

// recordActivity moves lastActivity forward, never back.
func (cw *clientWriter) recordActivity(at time.Time) {
	cw.activityMutex.Lock()
	defer cw.activityMutex.Unlock()
	if at.After(cw.lastActivity) {
		cw.lastActivity = at
	}
}

func (cw *clientWriter) lastActivityAt() time.Time {
	cw.activityMutex.Lock()
	defer cw.activityMutex.Unlock()
	return cw.lastActivity
}
