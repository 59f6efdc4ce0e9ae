package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datanerd/internal/types"
)

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	stages := []types.Stage{types.StageIngest, types.StageProfile, types.StagePlan}
	for _, stage := range stages {
		b.Publish(types.StatusEvent{RunID: "r1", Stage: stage, State: types.EventProcessing})
	}

	for _, want := range stages {
		ev := <-ch
		assert.Equal(t, want, ev.Stage)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(1)
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(types.StatusEvent{RunID: "r1", Stage: types.StageIngest, State: types.EventProcessing})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// Publishing finished before any receive, so exactly one event fit.
	ev := <-ch
	assert.Equal(t, types.EventProcessing, ev.State)
	select {
	case <-ch:
		t.Fatal("expected the overflow events to be dropped")
	default:
	}
}

func TestBroadcaster_IndependentSubscribers(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(types.StatusEvent{RunID: "r1", Stage: types.StageIngest, State: types.EventCompleted})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, ev1.RunID, ev2.RunID)
	assert.Equal(t, ev1.Stage, ev2.Stage)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	ch, unsub := b.Subscribe()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Publish(types.StatusEvent{RunID: "r1", Stage: types.StageIngest, State: types.EventCompleted})
}

func TestBroadcaster_CloseRejectsLatePublishes(t *testing.T) {
	b := NewBroadcaster(8)
	ch, _ := b.Subscribe()
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	b.Publish(types.StatusEvent{RunID: "r1"})
	late, lateCancel := b.Subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
