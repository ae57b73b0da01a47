package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicAction, 10)

	event := ActionStartedEvent{
		ID:        "action-1",
		Label:     "touch a",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicAction, event)

	select {
	case received := <-ch:
		if received.ActionID() != "action-1" {
			t.Errorf("expected action ID 'action-1', got '%s'", received.ActionID())
		}
		if received.EventType() != EventTypeActionStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeActionStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicAction, 10)
	ch2 := bus.Subscribe(TopicAction, 10)

	event := ActionSuccessfulEvent{
		ID:        "action-2",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicAction, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.ActionID() != "action-2" {
				t.Errorf("subscriber %d: expected action ID 'action-2', got '%s'", i+1, received.ActionID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicAction, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := ActionOutputEvent{
				ID:        "action-1",
				Chunk:     "line\n",
				Timestamp: time.Now(),
			}
			bus.Publish(TopicAction, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicAction, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicAction, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := ActionReadyEvent{
		ID:        "action-1",
		Label:     "Test",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicAction, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	actionCh := bus.Subscribe(TopicAction, 10)
	runCh := bus.Subscribe(TopicRun, 10)

	actionEvent := ActionStartedEvent{
		ID:        "action-1",
		Label:     "Test",
		Timestamp: time.Now(),
	}

	runEvent := RunProgressEvent{
		Total:      10,
		Successful: 5,
		Running:    2,
		Pending:    3,
		Timestamp:  time.Now(),
	}

	bus.Publish(TopicAction, actionEvent)
	bus.Publish(TopicRun, runEvent)

	// Action channel should receive action event
	select {
	case received := <-actionCh:
		if received.EventType() != EventTypeActionStarted {
			t.Errorf("action channel: expected action event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("action channel: timeout waiting for event")
	}

	// Run channel should receive run event
	select {
	case received := <-runCh:
		if received.EventType() != EventTypeRunProgress {
			t.Errorf("run channel: expected run event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("run channel: timeout waiting for event")
	}

	// Action channel should NOT have run event
	select {
	case <-actionCh:
		t.Error("action channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Run channel should NOT have action event
	select {
	case <-runCh:
		t.Error("run channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	// Publish action event
	actionEvent := ActionStartedEvent{
		ID:        "action-1",
		Label:     "Test",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicAction, actionEvent)

	// Publish run event
	runEvent := RunProgressEvent{
		Total:      10,
		Successful: 5,
		Running:    2,
		Pending:    3,
		Timestamp:  time.Now(),
	}
	bus.Publish(TopicRun, runEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeActionStarted] {
		t.Error("SubscribeAll did not receive action event")
	}
	if !receivedTypes[EventTypeRunProgress] {
		t.Error("SubscribeAll did not receive run event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
