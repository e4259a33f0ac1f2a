package events

import (
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	ch := bus.Subscribe()
	ev := New(KindWorkflowStarted)
	ev.WorkflowID = "wf-1"
	bus.Publish(ev)

	select {
	case received := <-ch:
		if received.Kind != KindWorkflowStarted || received.WorkflowID != "wf-1" {
			t.Errorf("unexpected event %+v", received)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByKind(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	taskCh := bus.Subscribe(KindTaskStateChanged)
	allCh := bus.Subscribe()

	bus.Publish(New(KindWorkflowStarted))
	bus.Publish(New(KindTaskStateChanged))

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatal("allCh should receive both events")
		}
	}

	select {
	case received := <-taskCh:
		if received.Kind != KindTaskStateChanged {
			t.Errorf("expected task_state_changed, got %s", received.Kind)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("taskCh should receive the task event")
	}
	select {
	case ev := <-taskCh:
		t.Fatalf("taskCh received unexpected %s", ev.Kind)
	default:
	}
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(New(KindExpertCall).With("n", i))
	}

	if bus.DroppedCount() != 3 {
		t.Fatalf("DroppedCount() = %d, want 3", bus.DroppedCount())
	}
	first := <-ch
	if first.Payload["n"] != 3 {
		t.Fatalf("expected oldest kept event to be 3, got %v", first.Payload["n"])
	}
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d", bus.SubscriberCount())
	}

	other := bus.Subscribe()
	bus.Close()
	if _, ok := <-other; ok {
		t.Fatal("Close should close subscriber channels")
	}
	bus.Publish(New(KindExpertCall))
}
