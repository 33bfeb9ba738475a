package events

import (
	"testing"
	"time"
)

func taskEvent(id string) TaskEvent {
	return TaskEvent{Type: EventTypeTaskCreated, ID: id, Timestamp: time.Now()}
}

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 8)
	bus.Publish(TopicTask, taskEvent("t1"))

	select {
	case evt := <-ch:
		te, ok := evt.(TaskEvent)
		if !ok {
			t.Fatalf("expected TaskEvent, got %T", evt)
		}
		if te.ID != "t1" {
			t.Errorf("expected task t1, got %s", te.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 8)
	bus.Publish(TopicWorkflow, WorkflowEvent{Type: EventTypeWorkflowStarted})

	select {
	case evt := <-taskCh:
		t.Fatalf("task subscriber received workflow event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)
	bus.Publish(TopicTask, taskEvent("t1"))
	bus.Publish(TopicScheduler, SchedulerEvent{Type: EventTypeSchedulerStarted})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, taskEvent("t1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The buffer held exactly one event; the rest were dropped.
	if evt := <-ch; evt == nil {
		t.Fatal("expected the buffered event")
	}
}

func TestCloseIdempotentAndClosesChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)
	all := bus.SubscribeAll(1)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("topic channel should be closed")
	}
	if _, ok := <-all; ok {
		t.Error("all-topics channel should be closed")
	}

	// Publishing after close is a no-op.
	bus.Publish(TopicTask, taskEvent("t1"))
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := NewBus()
	bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	if _, ok := <-ch; ok {
		t.Error("expected a closed channel from post-close subscribe")
	}
}
