package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/pscheid92/roomstream/internal/platform/version"
)

const (
	defaultMaxAttempts      = 10
	defaultInitialDelay     = 1 * time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultHeartbeatTimeout = 60 * time.Second
	defaultMaxLineSize      = 1 << 20
)

// State is the connection state of a Client.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	URL              string
	HTTPClient       *http.Client
	Clock            clockwork.Clock
	Dispatcher       Dispatcher
	OnStateChange    func(State)
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	HeartbeatTimeout time.Duration
	DedupCapacity    int
	MaxLineSize      int
}

// loopEvent is the event interface for the Client's event loop.
type loopEvent interface{ isLoopEvent() }

type baseLoopEvent struct{}

func (baseLoopEvent) isLoopEvent() {}

type streamOpened struct {
	baseLoopEvent
	gen int
}

type streamFrame struct {
	baseLoopEvent
	gen   int
	frame frame
}

type streamClosed struct {
	baseLoopEvent
	gen int
	err error
}

type heartbeatExpired struct {
	baseLoopEvent
	gen int
}

type reconnectDue struct {
	baseLoopEvent
	gen int
}

type manualReconnect struct {
	baseLoopEvent
}

// Client maintains a single event stream subscription.
// All connection state is owned by the goroutine running Run.
type Client struct {
	url              string
	httpClient       *http.Client
	clock            clockwork.Clock
	dispatcher       Dispatcher
	onStateChange    func(State)
	maxAttempts      int
	initialDelay     time.Duration
	maxDelay         time.Duration
	heartbeatTimeout time.Duration
	maxLineSize      int

	events  chan loopEvent
	stopped chan struct{}

	// owned by the event loop
	dedup          *dedupWindow
	supported      map[string]struct{}
	gen            int
	liveGen        int
	cancelStream   context.CancelFunc
	heartbeatTimer clockwork.Timer
	reconnectTimer clockwork.Timer
	reconnectGen   int
	delay          time.Duration
	attempts       int

	// snapshot for readers outside the loop
	mu          sync.RWMutex
	state       State
	snapAttempt int
	retryDelay  time.Duration
	lastEvent   time.Time
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = DispatcherFunc(func(context.Context, domain.Envelope) error { return nil })
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = defaultMaxLineSize
	}

	return &Client{
		url:              opts.URL,
		httpClient:       opts.HTTPClient,
		clock:            opts.Clock,
		dispatcher:       opts.Dispatcher,
		onStateChange:    opts.OnStateChange,
		maxAttempts:      opts.MaxAttempts,
		initialDelay:     opts.InitialDelay,
		maxDelay:         opts.MaxDelay,
		heartbeatTimeout: opts.HeartbeatTimeout,
		maxLineSize:      opts.MaxLineSize,
		events:           make(chan loopEvent, 64),
		stopped:          make(chan struct{}),
		dedup:            newDedupWindow(opts.DedupCapacity),
		supported:        supportedSet(domain.SupportedEvents()),
		delay:            opts.InitialDelay,
		state:            StateConnecting,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ReconnectAttempts returns the number of automatic reconnects scheduled
// since the last successful connection.
func (c *Client) ReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapAttempt
}

// RetryDelay returns the delay of the most recently scheduled reconnect.
func (c *Client) RetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryDelay
}

// LastEvent returns the timestamp of the last non-duplicate envelope, or the zero time.
func (c *Client) LastEvent() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEvent
}

// ManualReconnect drops the current stream and any pending retry and connects
// again with a fresh backoff. It works from every state, including StateError.
func (c *Client) ManualReconnect() {
	c.post(manualReconnect{})
}

// Run connects and processes stream events until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.teardown()

	c.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Client) handle(ctx context.Context, ev loopEvent) {
	switch e := ev.(type) {
	case streamOpened:
		if e.gen != c.liveGen {
			return
		}
		slog.DebugContext(ctx, "Event stream opened", "url", c.url)
		c.resetHeartbeat(e.gen)
	case streamFrame:
		if e.gen != c.liveGen {
			return
		}
		c.resetHeartbeat(e.gen)
		if !e.frame.comment {
			c.handleData(ctx, e.frame.data)
		}
	case streamClosed:
		if e.gen != c.liveGen {
			return
		}
		slog.WarnContext(ctx, "Event stream closed", "error", e.err)
		c.disconnect(ctx)
	case heartbeatExpired:
		if e.gen != c.liveGen {
			return
		}
		slog.WarnContext(ctx, "Event stream silent, reconnecting", "timeout", c.heartbeatTimeout, "error", domain.ErrHeartbeatTimeout)
		c.disconnect(ctx)
	case reconnectDue:
		if e.gen != c.reconnectGen {
			return
		}
		c.connect(ctx)
	case manualReconnect:
		slog.InfoContext(ctx, "Manual reconnect triggered")
		c.stopReconnectTimer()
		c.attempts = 0
		c.delay = c.initialDelay
		c.publishAttempts(0)
		c.connect(ctx)
	default:
		slog.Warn("Event stream client received unknown event type", "event_type", fmt.Sprintf("%T", ev))
	}
}

func (c *Client) handleData(ctx context.Context, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.WarnContext(ctx, "Failed to parse stream envelope", "error", err)
		return
	}

	if c.dedup.seen(env.ID) {
		slog.DebugContext(ctx, "Duplicate envelope ignored", "envelope_id", env.ID)
		return
	}

	c.mu.Lock()
	c.lastEvent = time.UnixMilli(env.Timestamp)
	c.mu.Unlock()

	if env.IsSystem() {
		c.handleSystem(ctx, env)
		return
	}

	if _, ok := c.supported[env.Event]; !ok {
		slog.WarnContext(ctx, "Ignoring unadvertised event", "event", env.Event, "envelope_id", env.ID, "error", domain.ErrProtocolDrift)
		return
	}

	if err := c.dispatcher.Dispatch(ctx, env); err != nil {
		slog.WarnContext(ctx, "Event dispatch failed", "event", env.Event, "envelope_id", env.ID, "error", err)
	}
}

func (c *Client) handleSystem(ctx context.Context, env domain.Envelope) {
	switch env.Event {
	case domain.SystemConnected:
		if len(env.Data.SupportedEvents) > 0 {
			c.supported = supportedSet(env.Data.SupportedEvents)
		}
		c.attempts = 0
		c.delay = c.initialDelay
		c.publishAttempts(0)
		c.setState(StateConnected)
		slog.InfoContext(ctx, "Event stream connected", "connection_id", env.Data.ConnectionID, "server_version", env.Data.ServerVersion)
	case domain.SystemDisconnected:
		c.setState(StateDisconnected)
		slog.InfoContext(ctx, "Event stream disconnected by server", "reason", env.Data.Reason)
	case domain.SystemError:
		if env.Data.Error != nil {
			slog.ErrorContext(ctx, "Event stream error event", "code", env.Data.Error.Code, "message", env.Data.Error.Message, "severity", env.Data.Error.Severity)
		}
	}
}

// connect cancels the current stream, if any, and opens a new one.
// The heartbeat timer is armed right away so an attempt that never gets a
// response still ends in a reconnect.
func (c *Client) connect(ctx context.Context) {
	c.closeStream()

	c.gen++
	c.liveGen = c.gen
	c.setState(StateConnecting)
	c.resetHeartbeat(c.gen)

	streamCtx, cancel := context.WithCancel(ctx)
	c.cancelStream = cancel
	go c.stream(streamCtx, c.gen)
}

// disconnect ends the live stream and schedules the next attempt.
func (c *Client) disconnect(ctx context.Context) {
	c.closeStream()
	c.setState(StateDisconnected)
	c.scheduleReconnect(ctx)
}

func (c *Client) closeStream() {
	c.liveGen = 0
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.stopReconnectTimer()

	if c.attempts >= c.maxAttempts {
		slog.ErrorContext(ctx, "Max reconnection attempts reached", "attempts", c.attempts)
		c.setState(StateError)
		return
	}

	c.attempts++
	delay := c.delay
	c.delay = min(c.delay*2, c.maxDelay)

	c.mu.Lock()
	c.snapAttempt = c.attempts
	c.retryDelay = delay
	c.mu.Unlock()

	gen := c.reconnectGen
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.post(reconnectDue{gen: gen}) })
	slog.InfoContext(ctx, "Reconnecting", "delay", delay, "attempt", c.attempts, "max_attempts", c.maxAttempts)
}

func (c *Client) stopReconnectTimer() {
	c.reconnectGen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) resetHeartbeat(gen int) {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
	}
	c.heartbeatTimer = c.clock.AfterFunc(c.heartbeatTimeout, func() { c.post(heartbeatExpired{gen: gen}) })
}

func (c *Client) teardown() {
	c.closeStream()
	c.stopReconnectTimer()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.onStateChange != nil {
		c.onStateChange(s)
	}
}

func (c *Client) publishAttempts(n int) {
	c.mu.Lock()
	c.snapAttempt = n
	c.mu.Unlock()
}

// post hands an event to the loop. Events posted after Run returns are dropped.
func (c *Client) post(ev loopEvent) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// stream runs one connection attempt and reports what happens to the loop.
func (c *Client) stream(ctx context.Context, gen int) {
	report := func(ev loopEvent) bool {
		select {
		case c.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		report(streamClosed{gen: gen, err: err})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", version.UserAgent("eventstream"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		report(streamClosed{gen: gen, err: err})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		report(streamClosed{gen: gen, err: fmt.Errorf("unexpected status %d", resp.StatusCode)})
		return
	}
	if !report(streamOpened{gen: gen}) {
		return
	}

	reader := newFrameReader(resp.Body, c.maxLineSize)
	for {
		f, err := reader.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = domain.ErrConnectionClosed
			}
			report(streamClosed{gen: gen, err: err})
			return
		}
		if !report(streamFrame{gen: gen, frame: f}) {
			return
		}
	}
}

func supportedSet(events []string) map[string]struct{} {
	set := make(map[string]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	return set
}
