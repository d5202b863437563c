package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Event   string
	Payload interface{}
}

type fakeTransport struct {
	mu     sync.Mutex
	events []recordedEvent
	alive  bool
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{alive: true}
}

func (f *fakeTransport) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) recorded() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeTransport) names() []string {
	events := f.recorded()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Event
	}
	return names
}

func TestStreamLifecycle(t *testing.T) {
	coord := NewCoordinator(5*time.Millisecond, zerolog.Nop())
	transport := newFakeTransport()

	s := coord.Start("conn-1", transport)
	assert.Equal(t, 1, coord.ActiveStreams())

	s.Write("hello ")
	s.Write("world")
	s.End(map[string]interface{}{"message_id": "m1"})

	assert.Equal(t, 0, coord.ActiveStreams())

	events := transport.recorded()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventStart, events[0].Event)
	assert.Equal(t, EventEnd, events[len(events)-1].Event)

	// Every buffered write is delivered before the end event.
	var text string
	for _, e := range events {
		if e.Event == EventChunk {
			text += e.Payload.(map[string]interface{})["text"].(string)
		}
	}
	assert.Equal(t, "hello world", text)
}

func TestEndFlushesPendingBuffer(t *testing.T) {
	// A very long flush interval guarantees the timer never fires; the
	// terminal flush must deliver the text anyway.
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	transport := newFakeTransport()

	s := coord.Start("conn-1", transport)
	s.Write("buffered text")
	s.End(nil)

	assert.Equal(t, []string{EventStart, EventChunk, EventEnd}, transport.names())
}

func TestFailEmitsErrorEvent(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	transport := newFakeTransport()

	s := coord.Start("conn-1", transport)
	s.Write("partial")
	s.Fail(fmt.Errorf("provider timeout"))

	events := transport.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, EventError, events[2].Event)
	assert.Equal(t, "provider timeout",
		events[2].Payload.(map[string]interface{})["message"])
	assert.Equal(t, 0, coord.ActiveStreams())
}

func TestStartAbortsPreviousStream(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	first := newFakeTransport()
	second := newFakeTransport()

	s1 := coord.Start("conn-1", first)
	s2 := coord.Start("conn-1", second)

	select {
	case <-s1.Aborted():
	default:
		t.Fatal("first stream was not aborted")
	}

	// The displaced stream emits no terminal event and its late writes
	// are dropped.
	s1.Write("late text")
	s1.End(nil)
	assert.Equal(t, []string{EventStart}, first.names())

	s2.Write("fresh")
	s2.End(nil)
	assert.Equal(t, []string{EventStart, EventChunk, EventEnd}, second.names())
	assert.Equal(t, 0, coord.ActiveStreams())
}

func TestAbortByConnID(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	transport := newFakeTransport()

	s := coord.Start("conn-1", transport)
	coord.Abort("conn-1")

	select {
	case <-s.Aborted():
	default:
		t.Fatal("stream was not aborted")
	}
	assert.Equal(t, 0, coord.ActiveStreams())

	// Aborting an unknown connection is a no-op.
	coord.Abort("conn-unknown")
}

func TestWritesAfterTerminationAreDropped(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	transport := newFakeTransport()

	s := coord.Start("conn-1", transport)
	s.End(nil)
	s.Write("too late")
	s.End(nil)
	s.Fail(fmt.Errorf("too late"))

	assert.Equal(t, []string{EventStart, EventEnd}, transport.names())
}

func TestDeadTransportDropsEventsSilently(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	transport := newFakeTransport()
	transport.alive = false

	s := coord.Start("conn-1", transport)
	s.Write("text")
	s.End(nil)

	assert.Empty(t, transport.recorded())
	assert.Equal(t, 0, coord.ActiveStreams())
}

func TestStreamsAreIndependentPerConnection(t *testing.T) {
	coord := NewCoordinator(time.Hour, zerolog.Nop())
	t1 := newFakeTransport()
	t2 := newFakeTransport()

	s1 := coord.Start("conn-1", t1)
	s2 := coord.Start("conn-2", t2)
	assert.Equal(t, 2, coord.ActiveStreams())

	s1.End(nil)
	assert.Equal(t, 1, coord.ActiveStreams())

	select {
	case <-s2.Aborted():
		t.Fatal("unrelated stream was aborted")
	default:
	}
	s2.End(nil)
}
