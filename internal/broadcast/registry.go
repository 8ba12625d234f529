package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/domain"
)

const (
	commandTimeout  = 5 * time.Second  // Actor command timeout
	stopTimeout     = 10 * time.Second // Graceful shutdown timeout
	commandBuffer   = 256
	defaultCapacity = 1000
)

// Disconnect reasons sent in the final system/disconnected envelope.
const (
	ReasonClientClosed = "Client closed connection"
	ReasonServerClosed = "Server closed connection"
	ReasonWriteFailure = "Write failed"
	ReasonSlowClient   = "Client too slow"
	ReasonMaxAge       = "Connection exceeded maximum age"
	ReasonIdle         = "Connection idle"
)

// ErrStopped is returned by registry operations after Stop.
var ErrStopped = errors.New("registry stopped")

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	Capacity      int
	QueueDepth    int
	WriteTimeout  time.Duration
	ServerVersion string
	Clock         clockwork.Clock
	Metrics       *metrics.StreamMetrics
}

// ConnectionInfo carries request details recorded with a connection.
type ConnectionInfo struct {
	RemoteAddr string
	UserAgent  string
}

// Connection is one registered stream.
type Connection struct {
	id          string
	info        ConnectionInfo
	connectedAt time.Time
	writer      *clientWriter
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) Info() ConnectionInfo   { return c.info }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity is the time of the most recent successful write.
func (c *Connection) LastActivity() time.Time { return c.writer.lastActivityAt() }

// Done is closed once the connection has been unregistered and its sink released.
func (c *Connection) Done() <-chan struct{} { return c.writer.closedChannel }

// errQueueFull reports that a connection could not take another frame.
var errQueueFull = errors.New("send queue full")

// send encodes env and queues it on the connection's writer without blocking.
func (c *Connection) send(env domain.Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return err
	}
	if !c.writer.enqueue(outbound{frame: frame, envelope: true}) {
		return fmt.Errorf("connection %s: %w", c.id, errQueueFull)
	}
	return nil
}

// Eviction describes a connection removed by an eviction scan.
type Eviction struct {
	ID     string
	Reason string
	Age    time.Duration
	Idle   time.Duration
}

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerResult struct {
	connection *Connection
	err        error
}

type registerCmd struct {
	baseRegistryCmd
	sink  Sink
	info  ConnectionInfo
	reply chan registerResult
}

type unregisterCmd struct {
	baseRegistryCmd
	id         string
	reason     string
	countError bool
	reply      chan bool
}

type forEachCmd struct {
	baseRegistryCmd
	fn    func(*Connection)
	reply chan struct{}
}

type sizeCmd struct {
	baseRegistryCmd
	reply chan int
}

type idsCmd struct {
	baseRegistryCmd
	reply chan []string
}

type evictCmd struct {
	baseRegistryCmd
	maxAge  time.Duration
	maxIdle time.Duration
	reply   chan []Eviction
}

type stopCmd struct {
	baseRegistryCmd
}

type failureNotice struct {
	id  string
	err error
}

// Registry owns the set of open streams.
type Registry struct {
	cmdCh    chan registryCmd
	failCh   chan failureNotice
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	closers  sync.WaitGroup

	clock         clockwork.Clock
	metrics       *metrics.StreamMetrics
	capacity      int
	queueDepth    int
	writeTimeout  time.Duration
	serverVersion string
	startTime     time.Time

	// owned by the actor goroutine
	connections map[string]*Connection

	totalConnections atomic.Int64
	activeCount      atomic.Int64
	messagesSent     atomic.Int64
	errorCount       atomic.Int64
}

// NewRegistry creates a registry and starts its actor goroutine.
func NewRegistry(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewStreamMetrics(prometheus.NewRegistry())
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = domain.ProtocolVersion
	}

	r := &Registry{
		cmdCh:         make(chan registryCmd, commandBuffer),
		failCh:        make(chan failureNotice),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		capacity:      opts.Capacity,
		queueDepth:    opts.QueueDepth,
		writeTimeout:  opts.WriteTimeout,
		serverVersion: opts.ServerVersion,
		startTime:     opts.Clock.Now(),
		connections:   make(map[string]*Connection),
	}
	go r.run()
	return r
}

// Register accepts a new stream and queues the system/connected envelope on it.
// It fails with a *domain.CapacityError when the registry is full.
func (r *Registry) Register(sink Sink, info ConnectionInfo) (*Connection, error) {
	reply := make(chan registerResult, 1)
	if err := r.send(registerCmd{sink: sink, info: info, reply: reply}); err != nil {
		return nil, err
	}

	result, err := awaitReply(r, reply)
	if err != nil {
		return nil, err
	}
	return result.connection, result.err
}

// Unregister removes a connection and closes it asynchronously with a final
// system/disconnected envelope. Unknown ids are a no-op.
func (r *Registry) Unregister(id, reason string) bool {
	return r.unregister(id, reason, false)
}

func (r *Registry) unregister(id, reason string, countError bool) bool {
	reply := make(chan bool, 1)
	if err := r.send(unregisterCmd{id: id, reason: reason, countError: countError, reply: reply}); err != nil {
		return false
	}
	removed, err := awaitReply(r, reply)
	return err == nil && removed
}

// ForEach runs fn for every registered connection inside the actor.
// fn must not call back into the Registry.
func (r *Registry) ForEach(fn func(*Connection)) error {
	reply := make(chan struct{}, 1)
	if err := r.send(forEachCmd{fn: fn, reply: reply}); err != nil {
		return err
	}
	_, err := awaitReply(r, reply)
	return err
}

// Size returns the number of registered connections, or -1 if the actor is unavailable.
func (r *Registry) Size() int {
	reply := make(chan int, 1)
	if err := r.send(sizeCmd{reply: reply}); err != nil {
		return -1
	}
	n, err := awaitReply(r, reply)
	if err != nil {
		slog.Warn("Registry size query failed", "error", err)
		return -1
	}
	return n
}

// IDs returns the ids of all registered connections.
func (r *Registry) IDs() []string {
	reply := make(chan []string, 1)
	if err := r.send(idsCmd{reply: reply}); err != nil {
		return nil
	}
	ids, _ := awaitReply(r, reply)
	return ids
}

// Evict unregisters connections older than maxAge or idle longer than maxIdle.
func (r *Registry) Evict(maxAge, maxIdle time.Duration) []Eviction {
	reply := make(chan []Eviction, 1)
	if err := r.send(evictCmd{maxAge: maxAge, maxIdle: maxIdle, reply: reply}); err != nil {
		return nil
	}
	evicted, _ := awaitReply(r, reply)
	return evicted
}

// Stats returns the current counters. Safe to call from any goroutine.
func (r *Registry) Stats() domain.Stats {
	sent := r.messagesSent.Load()
	stats := domain.Stats{
		TotalConnections:  r.totalConnections.Load(),
		ActiveConnections: int(r.activeCount.Load()),
		MessagesSent:      sent,
		ErrorCount:        r.errorCount.Load(),
		StartTime:         r.startTime,
	}
	if uptime := r.clock.Since(r.startTime).Seconds(); uptime > 0 {
		stats.MessagesPerSecond = float64(sent) / uptime
	}
	return stats
}

// Stop force-unregisters every connection with a disconnect notification and
// stops the actor. Blocks until the sinks are released or the stop timeout passes.
func (r *Registry) Stop() {
	r.closeQuit()

	timeout := time.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case r.cmdCh <- stopCmd{}:
	case <-r.done:
		return
	case <-timeout.C:
		slog.Warn("Registry stop command timed out", "timeout", stopTimeout)
		return
	}

	select {
	case <-r.done:
		slog.Info("Registry stopped gracefully")
	case <-timeout.C:
		slog.Warn("Registry stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (r *Registry) closeQuit() {
	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *Registry) send(cmd registryCmd) error {
	select {
	case <-r.quit:
		return ErrStopped
	default:
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.quit:
		return ErrStopped
	case <-timer.C:
		return fmt.Errorf("registry command timed out after %v", commandTimeout)
	}
}

func awaitReply[T any](r *Registry, reply <-chan T) (T, error) {
	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// the actor may have replied right before exiting
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrStopped
		}
	case <-timer.C:
		return zero, fmt.Errorf("registry reply timed out after %v", commandTimeout)
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry panic recovered", "panic", rec)
			r.closeQuit()
			r.closeAll(ReasonServerClosed)
		}
	}()

	for {
		select {
		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.reply <- r.handleRegister(c)
			case unregisterCmd:
				c.reply <- r.handleUnregister(c.id, c.reason, c.countError)
			case forEachCmd:
				for _, conn := range r.connections {
					c.fn(conn)
				}
				c.reply <- struct{}{}
			case sizeCmd:
				c.reply <- len(r.connections)
			case idsCmd:
				ids := make([]string, 0, len(r.connections))
				for id := range r.connections {
					ids = append(ids, id)
				}
				c.reply <- ids
			case evictCmd:
				c.reply <- r.handleEvict(c)
			case stopCmd:
				r.closeAll(ReasonServerClosed)
				return
			default:
				slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case notice := <-r.failCh:
			if r.handleUnregister(notice.id, ReasonWriteFailure, true) {
				slog.Debug("Stream client removed after write failure", "connection_id", notice.id, "error", notice.err)
			}
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) registerResult {
	if len(r.connections) >= r.capacity {
		slog.Warn("Rejecting stream client: capacity reached", "active", len(r.connections), "capacity", r.capacity)
		r.metrics.RejectedConnections.WithLabelValues("capacity").Inc()
		return registerResult{err: &domain.CapacityError{Limit: r.capacity}}
	}

	id := uuid.NewString()
	conn := &Connection{
		id:          id,
		info:        c.info,
		connectedAt: r.clock.Now(),
	}
	conn.writer = newClientWriter(c.sink, r.clock, r.queueDepth, r.writeTimeout, r.recordWrite, func(err error) {
		r.metrics.WriteFailures.Inc()
		select {
		case r.failCh <- failureNotice{id: id, err: err}:
		case <-r.quit:
		}
	})
	r.connections[id] = conn

	r.totalConnections.Add(1)
	r.activeCount.Add(1)
	r.metrics.ConnectionsTotal.Inc()
	r.metrics.ActiveConnections.Inc()

	connected := domain.NewSystemEnvelope(domain.SystemConnected, domain.Payload{
		ConnectionID:    id,
		ServerVersion:   r.serverVersion,
		SupportedEvents: domain.SupportedEvents(),
	}, r.clock.Now())
	if err := conn.send(connected); err != nil {
		slog.Error("Failed to queue connected envelope", "connection_id", id, "error", err)
	}

	slog.Info("Stream client connected", "connection_id", id, "remote_addr", c.info.RemoteAddr, "active", len(r.connections))
	return registerResult{connection: conn}
}

func (r *Registry) handleUnregister(id, reason string, countError bool) bool {
	conn, ok := r.connections[id]
	if !ok {
		return false
	}
	delete(r.connections, id)

	r.activeCount.Add(-1)
	r.metrics.ActiveConnections.Dec()
	if countError {
		r.errorCount.Add(1)
	}

	// The writer skips the final frame if the sink has already failed.
	disconnected := domain.NewSystemEnvelope(domain.SystemDisconnected, domain.Payload{Reason: reason}, r.clock.Now())
	final, err := EncodeFrame(disconnected)
	if err != nil {
		slog.Error("Failed to encode disconnected envelope", "connection_id", id, "error", err)
	}

	r.closers.Add(1)
	go func() {
		defer r.closers.Done()
		conn.writer.close(final)
	}()

	slog.Info("Stream client disconnected", "connection_id", id, "reason", reason, "remaining", len(r.connections))
	return true
}

func (r *Registry) handleEvict(c evictCmd) []Eviction {
	now := r.clock.Now()

	var evicted []Eviction
	for id, conn := range r.connections {
		age := now.Sub(conn.connectedAt)
		idle := now.Sub(conn.LastActivity())

		switch {
		case c.maxAge > 0 && age > c.maxAge:
			evicted = append(evicted, Eviction{ID: id, Reason: ReasonMaxAge, Age: age, Idle: idle})
		case c.maxIdle > 0 && idle > c.maxIdle:
			evicted = append(evicted, Eviction{ID: id, Reason: ReasonIdle, Age: age, Idle: idle})
		}
	}

	for _, e := range evicted {
		r.handleUnregister(e.ID, e.Reason, false)
		label := "max_age"
		if e.Reason == ReasonIdle {
			label = "idle"
		}
		r.metrics.Evictions.WithLabelValues(label).Inc()
	}
	return evicted
}

// closeAll unregisters every connection and waits for their sinks to be released.
func (r *Registry) closeAll(reason string) {
	for id := range r.connections {
		r.handleUnregister(id, reason, false)
	}
	r.closers.Wait()
}

func (r *Registry) recordWrite(envelope bool, elapsed time.Duration) {
	r.metrics.WriteDuration.Observe(elapsed.Seconds())
	if envelope {
		r.messagesSent.Add(1)
		r.metrics.MessagesSent.Inc()
	}
}
