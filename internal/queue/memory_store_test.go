package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	task, err := store.Enqueue(ctx, "ns1", "session-1", "", "hi", TaskTypeImplementation)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, task.Status)

	result, err := store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, StatusRunning, result.Task.Status)

	second, err := store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.False(t, second.OK)
}

func TestClaimNoDoubleExecutionUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	task, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var successCount int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Claim(ctx, "ns1")
			require.NoError(t, err)
			if result.OK && result.Task.TaskID == task.TaskID {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, successCount)
}

func TestStateMachineClosure(t *testing.T) {
	allStatuses := []Status{StatusQueued, StatusRunning, StatusAwaitingResponse, StatusComplete, StatusError, StatusCancelled}
	allowedPairs := map[[2]Status]bool{
		{StatusQueued, StatusRunning}:             true,
		{StatusQueued, StatusCancelled}:            true,
		{StatusRunning, StatusComplete}:            true,
		{StatusRunning, StatusError}:               true,
		{StatusRunning, StatusCancelled}:           true,
		{StatusRunning, StatusAwaitingResponse}:    true,
		{StatusAwaitingResponse, StatusQueued}:     true,
		{StatusAwaitingResponse, StatusRunning}:    true,
		{StatusAwaitingResponse, StatusCancelled}:  true,
		{StatusAwaitingResponse, StatusError}:      true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowedPairs[[2]Status{from, to}]
			got := IsAllowedTransition(from, to)
			if got != want {
				t.Errorf("IsAllowedTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalFinality(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	task, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.True(t, claimed.OK)

	require.NoError(t, store.UpdateStatusWithValidation(ctx, "ns1", task.TaskID, StatusComplete))

	for _, to := range []Status{StatusRunning, StatusError, StatusCancelled, StatusQueued, StatusAwaitingResponse} {
		err := store.UpdateStatusWithValidation(ctx, "ns1", task.TaskID, to)
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestAwaitingResponseResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	task, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.True(t, claimed.OK)

	require.NoError(t, store.SetAwaitingResponse(ctx, "ns1", task.TaskID, "need more detail", nil, "partial output"))
	got, err := store.GetItem(ctx, "ns1", task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingResponse, got.Status)
	require.Equal(t, "need more detail", got.Clarification)

	require.NoError(t, store.ResumeWithResponse(ctx, "ns1", task.TaskID, "here is more detail"))
	got, err = store.GetItem(ctx, "ns1", task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, got.Status)
	require.Len(t, got.ConversationHistory, 1)
	require.Equal(t, "user", got.ConversationHistory[0].Role)
}

func TestRecoverStaleTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	task, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.True(t, claimed.OK)

	store.mu.Lock()
	store.tasks[key{"ns1", task.TaskID}].UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	store.mu.Unlock()

	count, err := store.RecoverStaleTasks(ctx, "ns1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := store.GetItem(ctx, "ns1", task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusError, got.Status)
	require.Contains(t, got.ErrorMessage, "Task stale")

	// Idempotent: a second sweep finds nothing (task is terminal now).
	count, err = store.RecoverStaleTasks(ctx, "ns1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	_, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "ns2", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)

	list1, err := store.ListByNamespace(ctx, "ns1", 0)
	require.NoError(t, err)
	require.Len(t, list1, 1)

	result, err := store.Claim(ctx, "ns2")
	require.NoError(t, err)
	require.True(t, result.OK)

	namespaces, err := store.GetAllNamespaces(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ns1", "ns2"}, namespaces)
}

func TestAppendEventOnTerminalTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	task, err := store.Enqueue(ctx, "ns1", "s", "", "p", TaskTypeImplementation)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "ns1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatusWithValidation(ctx, "ns1", task.TaskID, StatusComplete))

	require.NoError(t, store.AppendEvent(ctx, "ns1", task.TaskID, Event{Type: "note", Message: "post-hoc annotation"}))
	got, err := store.GetItem(ctx, "ns1", task.TaskID)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	require.Equal(t, StatusComplete, got.Status)
}
