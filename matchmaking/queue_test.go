package matchmaking

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu      sync.Mutex
	members map[string]bool
}

func (f *fakeSessions) InSession(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[id]
}

func (f *fakeSessions) start(cohort []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = make(map[string]bool)
	}
	for _, id := range cohort {
		f.members[id] = true
	}
	return nil
}

func setupTestQueue(t *testing.T, size int) (*Queue, *fakeSessions, *[][]string) {
	t.Helper()
	q := New(size)
	sessions := &fakeSessions{}
	var cohorts [][]string
	q.SetSessionChecker(sessions)
	q.SetCohortHandler(func(cohort []string) error {
		cohorts = append(cohorts, cohort)
		return sessions.start(cohort)
	})
	return q, sessions, &cohorts
}

func TestQueue_FormsCohortInJoinOrder(t *testing.T) {
	q, _, cohorts := setupTestQueue(t, 4)

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, q.Enqueue(id))
	}
	require.Empty(t, *cohorts)
	require.Equal(t, Status{Length: 3, Waiting: []string{"A", "B", "C"}, CohortSize: 4}, q.Status())

	require.NoError(t, q.Enqueue("D"))
	require.Equal(t, [][]string{{"A", "B", "C", "D"}}, *cohorts)
	require.Equal(t, 0, q.Status().Length)
}

func TestQueue_ExcessParticipantsKeepWaiting(t *testing.T) {
	q, _, cohorts := setupTestQueue(t, 4)

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(fmt.Sprintf("p%d", i)))
	}
	require.Len(t, *cohorts, 1)
	require.Equal(t, []string{"p0", "p1", "p2", "p3"}, (*cohorts)[0])
	require.Equal(t, []string{"p4", "p5"}, q.Status().Waiting)
}

func TestQueue_PreconditionErrors(t *testing.T) {
	q, _, _ := setupTestQueue(t, 2)

	require.NoError(t, q.Enqueue("A"))
	require.ErrorIs(t, q.Enqueue("A"), protocol.ErrAlreadyQueued)

	require.NoError(t, q.Enqueue("B"))
	// A and B are now in a session.
	require.ErrorIs(t, q.Enqueue("A"), protocol.ErrAlreadyInSession)

	require.ErrorIs(t, q.Dequeue("Z"), protocol.ErrNotQueued)
}

func TestQueue_DequeueOnlyAffectsThatEntry(t *testing.T) {
	q, _, cohorts := setupTestQueue(t, 3)

	require.NoError(t, q.Enqueue("A"))
	require.NoError(t, q.Enqueue("B"))
	require.NoError(t, q.Dequeue("A"))
	require.True(t, q.Contains("B"))
	require.False(t, q.Contains("A"))

	require.NoError(t, q.Enqueue("C"))
	require.NoError(t, q.Enqueue("D"))
	require.Equal(t, [][]string{{"B", "C", "D"}}, *cohorts)
}

func TestQueue_RequeueGoesToHead(t *testing.T) {
	q, _, cohorts := setupTestQueue(t, 4)

	require.NoError(t, q.Enqueue("late"))
	q.Requeue([]string{"A", "B", "late"})
	require.Equal(t, []string{"A", "B", "late"}, q.Status().Waiting)

	require.NoError(t, q.Enqueue("E"))
	require.Equal(t, [][]string{{"A", "B", "late", "E"}}, *cohorts)
}

func TestQueue_HandlerFailureKeepsEntries(t *testing.T) {
	q := New(2)
	q.SetCohortHandler(func([]string) error { return errors.New("shutting down") })

	require.NoError(t, q.Enqueue("A"))
	require.NoError(t, q.Enqueue("B"))
	require.Equal(t, []string{"A", "B"}, q.Status().Waiting)

	q.SetCohortHandler(nil)
	require.Equal(t, [][]string{{"A", "B"}}, q.TryFormSession())
	require.Equal(t, 0, q.Status().Length)
}

func TestQueue_ConcurrentEnqueueFormsDisjointCohorts(t *testing.T) {
	q, _, cohorts := setupTestQueue(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := q.Enqueue(fmt.Sprintf("p%d", i)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, *cohorts, 10)
	seen := make(map[string]bool)
	for _, c := range *cohorts {
		require.Len(t, c, 4)
		for _, id := range c {
			require.False(t, seen[id])
			seen[id] = true
		}
	}
	require.Equal(t, 0, q.Status().Length)
}
