package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transport is the channel events are relayed over. Implementations
// must tolerate Send being called after the connection is gone.
type Transport interface {
	Send(event string, payload interface{}) error
	IsAlive() bool
}

// Stream event names, emitted in order: start, zero or more chunks,
// then end or error.
const (
	EventStart = "stream.start"
	EventChunk = "stream.chunk"
	EventEnd   = "stream.end"
	EventError = "stream.error"
)

// DefaultFlushInterval is the chunk coalescing window.
const DefaultFlushInterval = 50 * time.Millisecond

// Coordinator multiplexes token streams to transport channels, one
// active stream per connection identity.
type Coordinator struct {
	mu            sync.Mutex
	active        map[string]*Stream
	flushInterval time.Duration
	logger        zerolog.Logger
}

// NewCoordinator creates a coordinator. A non-positive flush interval
// falls back to DefaultFlushInterval.
func NewCoordinator(flushInterval time.Duration, logger zerolog.Logger) *Coordinator {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Coordinator{
		active:        make(map[string]*Stream),
		flushInterval: flushInterval,
		logger:        logger.With().Str("module", "stream").Logger(),
	}
}

// Start begins a new stream for the given connection identity. Any
// stream already active for that identity is aborted first; its event
// emission stops before the new stream's start event is sent.
// Cancellation is cooperative: the old producer observes Aborted() and
// stops yielding on its next opportunity.
func (c *Coordinator) Start(connID string, transport Transport) *Stream {
	c.mu.Lock()
	if old, exists := c.active[connID]; exists {
		old.abort()
	}

	s := &Stream{
		connID:    connID,
		coord:     c,
		transport: transport,
		abortCh:   make(chan struct{}),
		stopCh:    make(chan struct{}),
		logger:    c.logger.With().Str("conn_id", connID).Logger(),
	}
	c.active[connID] = s
	c.mu.Unlock()

	s.emit(EventStart, nil)
	go s.flushLoop(c.flushInterval)

	s.logger.Debug().Msg("Stream started")
	return s
}

// Abort cancels the stream active on the given connection, if any. No
// terminal event is emitted; the producer observes Aborted() and stops.
func (c *Coordinator) Abort(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, exists := c.active[connID]; exists {
		s.abort()
		delete(c.active, connID)
	}
}

// ActiveStreams returns the number of streams currently active.
func (c *Coordinator) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Coordinator) release(s *Stream) {
	c.mu.Lock()
	if c.active[s.connID] == s {
		delete(c.active, s.connID)
	}
	c.mu.Unlock()
}

// Stream is one active token stream bound to a transport channel.
// Incoming text is buffered and flushed on a short timer rather than
// once per chunk.
type Stream struct {
	connID    string
	coord     *Coordinator
	transport Transport
	logger    zerolog.Logger

	mu         sync.Mutex
	buf        strings.Builder
	terminated bool

	abortCh chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
}

// Write appends text to the stream buffer. Writes after termination
// are dropped so a draining producer stays side-effect free on the
// transport.
func (s *Stream) Write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.buf.WriteString(text)
}

// Aborted is closed when the stream has been aborted. Producers check
// it at each yield point.
func (s *Stream) Aborted() <-chan struct{} {
	return s.abortCh
}

// End flushes the remaining buffer, then emits the end event carrying
// the caller-supplied payload.
func (s *Stream) End(payload interface{}) {
	if !s.terminate() {
		return
	}
	s.flush()
	s.emit(EventEnd, payload)
	s.coord.release(s)
	s.logger.Debug().Msg("Stream ended")
}

// Fail flushes the buffer immediately, then emits a terminal error
// event. The underlying error stays with the caller's control flow.
func (s *Stream) Fail(err error) {
	if !s.terminate() {
		return
	}
	s.flush()
	s.emit(EventError, map[string]interface{}{"message": err.Error()})
	s.coord.release(s)
	s.logger.Debug().Err(err).Msg("Stream failed")
}

// abort stops event emission without a terminal event. Called with the
// coordinator lock held when a new stream displaces this one.
func (s *Stream) abort() {
	if !s.terminate() {
		return
	}
	close(s.abortCh)
	s.logger.Debug().Msg("Stream aborted")
}

// terminate marks the stream finished and stops the flush loop. It
// reports whether this call was the one that terminated the stream.
func (s *Stream) terminate() bool {
	s.mu.Lock()
	already := s.terminated
	s.terminated = true
	s.mu.Unlock()
	if already {
		return false
	}
	s.stopped.Do(func() { close(s.stopCh) })
	return true
}

func (s *Stream) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushBuffered()
		case <-s.stopCh:
			return
		}
	}
}

// flushBuffered flushes on the timer; it respects termination so a
// late tick cannot emit after a terminal event.
func (s *Stream) flushBuffered() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	text := s.buf.String()
	s.buf.Reset()
	s.mu.Unlock()

	if text != "" {
		s.emit(EventChunk, map[string]interface{}{"text": text})
	}
}

// flush drains whatever is buffered regardless of stream state, for
// the final flush before a terminal event.
func (s *Stream) flush() {
	s.mu.Lock()
	text := s.buf.String()
	s.buf.Reset()
	s.mu.Unlock()

	if text != "" {
		s.emit(EventChunk, map[string]interface{}{"text": text})
	}
}

// emit sends one event to the transport. A dead or failing transport
// drops the event silently; the producer keeps draining so upstream
// side effects still happen.
func (s *Stream) emit(event string, payload interface{}) {
	if s.transport == nil || !s.transport.IsAlive() {
		return
	}
	if err := s.transport.Send(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("Dropped stream event")
	}
}
