package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DulanDias/opensecagent/internal/models"
)

func TestEnqueueWaitsForConsumer(t *testing.T) {
	d := &Daemon{queue: make(chan models.Event, 1)}
	d.enqueue(context.Background(), models.Event{Type: models.EventHighCPU})

	done := make(chan struct{})
	go func() {
		d.enqueue(context.Background(), models.Event{Type: models.EventHighMemory})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("enqueue returned while the queue was still full")
	case <-time.After(50 * time.Millisecond):
	}

	first := <-d.queue
	assert.Equal(t, models.EventHighCPU, first.Type)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue did not complete after the queue drained")
	}

	second := <-d.queue
	assert.Equal(t, models.EventHighMemory, second.Type)
}

func TestEnqueueReturnsOnCancel(t *testing.T) {
	d := &Daemon{queue: make(chan models.Event, 1)}
	d.enqueue(context.Background(), models.Event{Type: models.EventHighCPU})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		d.enqueue(ctx, models.Event{Type: models.EventHighMemory})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue did not return after cancellation")
	}
	require.Len(t, d.queue, 1)
}
