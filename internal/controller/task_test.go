package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/lectern/internal/domain"
)

// occupyWorker parks the fixture's single worker on a task that runs
// until the returned release func is called.
func occupyWorker(t *testing.T, f *fixture) (busy *TaskHandle, release func()) {
	t.Helper()

	gate := make(chan struct{})
	running := make(chan struct{})
	busy = f.controller.submit(func(ctx context.Context) error {
		close(running)
		<-gate
		return nil
	})

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the blocking task")
	}
	return busy, func() { close(gate) }
}

func TestSubmitDoesNotBlockWhenWorkersAreBusy(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test"})
	busy, release := occupyWorker(t, f)

	returned := make(chan *TaskHandle, 1)
	go func() {
		entry := openAccessEntry("urn:1")
		returned <- f.controller.Borrow(f.account, entry.BookID(), entry.Acquisitions[0], entry)
	}()

	var handle *TaskHandle
	select {
	case handle = <-returned:
	case <-time.After(time.Second):
		t.Fatal("Borrow blocked while the worker pool was busy")
	}
	require.NotNil(t, handle)

	release()
	require.NoError(t, mustWait(t, busy))
	require.NoError(t, mustWait(t, handle))
}

func TestCancelBeforeStart(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test"})
	busy, release := occupyWorker(t, f)

	ran := false
	queued := f.controller.submit(func(ctx context.Context) error {
		ran = true
		return nil
	})
	queued.Cancel()

	release()
	require.NoError(t, mustWait(t, busy))

	assert.ErrorIs(t, mustWait(t, queued), domain.ErrTaskCancelled)
	assert.False(t, ran)
}

func TestCloseDrainsQueuedTasks(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test"})
	_, release := occupyWorker(t, f)

	ran := make(chan struct{})
	queued := f.controller.submit(func(ctx context.Context) error {
		close(ran)
		return nil
	})

	release()
	f.controller.Close()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("queued task was dropped on Close")
	}
	require.NoError(t, mustWait(t, queued))
}

func TestSubmitAfterClose(t *testing.T) {
	f := newFixture(t, domain.Provider{Name: "test"})
	f.controller.Close()

	entry := openAccessEntry("urn:1")
	handle := f.controller.Borrow(f.account, entry.BookID(), entry.Acquisitions[0], entry)
	require.NotNil(t, handle)

	assert.ErrorIs(t, mustWait(t, handle), domain.ErrControllerClosed)
	assert.Empty(t, f.recorder.names(), "a rejected task publishes nothing")
}
