package lockmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/strata/pkg/adapter"
)

// fakeStore is an in-memory adapter.Adapter assigning strictly increasing
// ids, the way sqlite's AUTOINCREMENT primary key does.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]adapter.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[int64]adapter.Record)}
}

func (s *fakeStore) Identity() string { return "fake" }

func (s *fakeStore) AssignsMonotonicIDs() bool { return true }

func (s *fakeStore) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := adapter.Record{}
	for k, v := range values {
		rec[k] = v
	}
	rec["id"] = s.nextID
	s.records[s.nextID] = rec
	return rec, nil
}

func (s *fakeStore) Find(ctx context.Context, collection string, criteria adapter.Criterion) ([]adapter.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []adapter.Record
	for _, rec := range s.records {
		if matchesWhere(rec, criteria.Where) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchesWhere(rec adapter.Record, where map[string]any) bool {
	for k, v := range where {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func (s *fakeStore) Update(ctx context.Context, collection string, criteria adapter.Criterion, values adapter.Record) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, rec := range s.records {
		if matchesWhere(rec, criteria.Where) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) Drop(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[int64]adapter.Record)
	return nil
}

type noMonotonicStore struct{ *fakeStore }

func (n *noMonotonicStore) AssignsMonotonicIDs() bool { return false }

func TestNew_RejectsAdapterWithoutMonotonicIDs(t *testing.T) {
	_, err := New(&noMonotonicStore{newFakeStore()}, Config{})
	require.Error(t, err)
}

func TestTransaction_ExclusiveAccess(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: 2 * time.Millisecond})
	require.NoError(t, err)

	var active int32
	var maxActive int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Transaction(context.Background(), "shared", func(unlock func(...any)) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				unlock()
			}, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive, "at most one worker should hold the lock at a time")
}

func TestTransaction_FIFOOrdering(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	const n = 5
	starter := make(chan struct{})
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Transaction(context.Background(), "fifo", func(unlock func(...any)) {
				// Hold whichever worker got the lock until every worker has
				// enqueued, so the rest are granted purely by queue order.
				<-starter
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				unlock()
			}, nil)
			require.NoError(t, err)
		}()
		// Give each goroutine time to enqueue before the next one starts,
		// so the lock's queue order is deterministic for this assertion.
		time.Sleep(5 * time.Millisecond)
	}
	close(starter)
	wg.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "lock grants should honor enqueue order")
	}
}

func TestTransaction_IndependentNamesDoNotBlockEachOther(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := manager.Transaction(context.Background(), "lock-a", func(unlock func(...any)) {
			close(started)
			<-release
			unlock()
		}, nil)
		require.NoError(t, err)
	}()

	<-started

	done := make(chan struct{})
	go func() {
		err := manager.Transaction(context.Background(), "lock-b", func(unlock func(...any)) {
			unlock()
		}, nil)
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transaction on an independent lock name should not block on an unrelated held lock")
	}

	close(release)
	wg.Wait()
}

func TestTransaction_ContextCancellationReleasesEntry(t *testing.T) {
	store := newFakeStore()
	manager, err := New(store, Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	blocking := make(chan struct{})
	holderReleased := make(chan struct{})
	go func() {
		_ = manager.Transaction(context.Background(), "cancel-test", func(unlock func(...any)) {
			close(blocking)
			<-holderReleased
			unlock()
		}, nil)
	}()
	<-blocking

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = manager.Transaction(ctx, "cancel-test", func(unlock func(...any)) {
		unlock()
	}, nil)
	require.Error(t, err)

	store.mu.Lock()
	remaining := len(store.records)
	store.mu.Unlock()
	assert.Equal(t, 1, remaining, "the cancelled waiter's lock entry must be deleted, leaving only the holder's")

	close(holderReleased)
}

func TestTransaction_AfterUnlockReceivesForwardedArgs(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	var calls int32
	var gotArgs []any
	err = manager.Transaction(context.Background(), "with-afterunlock", func(unlock func(...any)) {
		unlock("done", 42)
	}, func(args ...any) {
		atomic.AddInt32(&calls, 1)
		gotArgs = args
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls, "afterUnlock must run exactly once")
	assert.Equal(t, []any{"done", 42}, gotArgs)
}

func TestTransaction_AfterUnlockRunsAtMostOnceEvenWithoutExplicitUnlock(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	var calls int32
	err = manager.Transaction(context.Background(), "implicit-unlock", func(unlock func(...any)) {
		// atomicLogic returns without calling unlock; Transaction's own
		// deferred release must still fire afterUnlock exactly once.
	}, func(args ...any) {
		atomic.AddInt32(&calls, 1)
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestTransaction_AfterUnlockCompletesBeforeNextWaiterIsGranted(t *testing.T) {
	manager, err := New(newFakeStore(), Config{ScanInterval: time.Millisecond})
	require.NoError(t, err)

	afterUnlockRunning := make(chan struct{})
	releaseAfterUnlock := make(chan struct{})
	secondAcquired := make(chan struct{})

	holderStarted := make(chan struct{})
	go func() {
		err := manager.Transaction(context.Background(), "handoff", func(unlock func(...any)) {
			close(holderStarted)
			unlock()
		}, func(args ...any) {
			close(afterUnlockRunning)
			<-releaseAfterUnlock
		})
		require.NoError(t, err)
	}()
	<-holderStarted
	<-afterUnlockRunning

	go func() {
		err := manager.Transaction(context.Background(), "handoff", func(unlock func(...any)) {
			close(secondAcquired)
			unlock()
		}, nil)
		require.NoError(t, err)
	}()

	select {
	case <-secondAcquired:
		t.Fatal("second waiter must not be granted while the first holder's afterUnlock is still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(releaseAfterUnlock)

	select {
	case <-secondAcquired:
	case <-time.After(time.Second):
		t.Fatal("second waiter should be granted once afterUnlock has completed and the entry is deleted")
	}
}
