package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_SharedLocksAreConcurrent(t *testing.T) {
	m := New(time.Second, nil)

	require.NoError(t, m.Acquire("k", "t1", Shared))
	require.NoError(t, m.Acquire("k", "t2", Shared))
}

func TestAcquire_ExclusiveBlocksUntilReleased(t *testing.T) {
	m := New(2*time.Second, nil)
	require.NoError(t, m.Acquire("k", "t1", Exclusive))

	done := make(chan error, 1)
	go func() { done <- m.Acquire("k", "t2", Exclusive) }()

	select {
	case <-done:
		t.Fatal("second exclusive acquire should not have been granted yet")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release("k", "t1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second exclusive acquire never granted after release")
	}
}

func TestAcquire_ReentrantSameTxnSameMode(t *testing.T) {
	m := New(time.Second, nil)
	require.NoError(t, m.Acquire("k", "t1", Shared))
	require.NoError(t, m.Acquire("k", "t1", Shared))
}

func TestAcquire_UpgradeInPlaceForSoleHolder(t *testing.T) {
	m := New(time.Second, nil)
	require.NoError(t, m.Acquire("k", "t1", Shared))
	require.NoError(t, m.Acquire("k", "t1", Exclusive))
}

func TestAcquire_UpgradeWaitsBehindOtherHolders(t *testing.T) {
	m := New(150*time.Millisecond, nil)
	require.NoError(t, m.Acquire("k", "t1", Shared))
	require.NoError(t, m.Acquire("k", "t2", Shared))

	err := m.Acquire("k", "t1", Exclusive)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquire_TimesOutOnSustainedContention(t *testing.T) {
	m := New(100*time.Millisecond, nil)
	require.NoError(t, m.Acquire("k", "t1", Exclusive))

	err := m.Acquire("k", "t2", Exclusive)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestReleaseAll_CancelsQueuedWaitersWithAbortedError(t *testing.T) {
	m := New(2*time.Second, nil)
	require.NoError(t, m.Acquire("k", "t1", Exclusive))

	done := make(chan error, 1)
	go func() { done <- m.Acquire("k", "t2", Exclusive) }()
	time.Sleep(20 * time.Millisecond)

	m.ReleaseAll("t2")

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTransactionAborted)
	case <-time.After(time.Second):
		t.Fatal("queued waiter was never cancelled")
	}
}

func TestReleaseAll_ReleasesEveryHeldKey(t *testing.T) {
	m := New(time.Second, nil)
	require.NoError(t, m.Acquire("a", "t1", Exclusive))
	require.NoError(t, m.Acquire("b", "t1", Exclusive))

	m.ReleaseAll("t1")

	require.NoError(t, m.Acquire("a", "t2", Exclusive))
	require.NoError(t, m.Acquire("b", "t2", Exclusive))
}

func TestDrainLocked_GrantsAllConsecutiveSharedWaiters(t *testing.T) {
	m := New(2*time.Second, nil)
	require.NoError(t, m.Acquire("k", "holder", Exclusive))

	var wg sync.WaitGroup
	results := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.Acquire("k", txnName(i), Shared)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	m.Release("k", "holder")
	wg.Wait()

	for _, err := range results {
		require.NoError(t, err)
	}
}

func txnName(i int) string {
	return string(rune('a' + i))
}
