// Package lockmanager implements a distributed-safe, FIFO, named mutual
// exclusion primitive on top of any adapter.Adapter that assigns monotonic
// ids to created records. Locks are rows in a reserved collection rather
// than anything held in process memory, so exclusion holds across separate
// processes sharing the same backing store.
package lockmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/logger"
)

// DefaultCollection is the reserved collection name lock entries live in
// when the caller doesn't override it.
const DefaultCollection = "strata_lock"

// Config carries the Manager's tunables.
type Config struct {
	// Collection overrides the reserved collection name. Defaults to
	// DefaultCollection when empty.
	Collection string
	// WarningTimer is how long a held lock runs before Manager logs a
	// warning that it may be stuck. Zero disables the warning.
	WarningTimer time.Duration
	// StaleAfter is how old a lock entry can get before a later acquirer
	// treats it as abandoned and clears it rather than waiting on it
	// forever. Zero disables staleness detection.
	StaleAfter time.Duration
	// ScanInterval is how often a blocked Transaction call re-scans for
	// conflicting entries while waiting. Defaults to 50ms when zero.
	ScanInterval time.Duration
}

// LockEntry is one row of the reserved lock collection.
type LockEntry struct {
	UUID      string
	Name      string
	ID        int64
	EnqueuedAt time.Time
}

// Manager grants named, mutually exclusive, FIFO-ordered access to
// arbitrary critical sections by serializing through rows in a backing
// adapter's reserved collection.
type Manager struct {
	store      adapter.Adapter
	collection string
	warnAfter  time.Duration
	staleAfter time.Duration
	scanEvery  time.Duration
	log        *logger.Logger
}

// New constructs a Manager on top of store. store must implement
// adapter.MonotonicIDs and report true from AssignsMonotonicIDs — without an
// adapter-assigned total order, lock grant order cannot be derived from
// insertion order alone.
func New(store adapter.Adapter, cfg Config) (*Manager, error) {
	monotonic, ok := store.(adapter.MonotonicIDs)
	if !ok || !monotonic.AssignsMonotonicIDs() {
		return nil, adapter.NewUnsupportedOperationError(store.Identity(), "lockmanager.New", "adapter does not assign monotonic ids")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	scanEvery := cfg.ScanInterval
	if scanEvery <= 0 {
		scanEvery = 50 * time.Millisecond
	}

	return &Manager{
		store:      store,
		collection: collection,
		warnAfter:  cfg.WarningTimer,
		staleAfter: cfg.StaleAfter,
		scanEvery:  scanEvery,
		log:        logger.New("lockmanager"),
	}, nil
}

// Transaction runs atomicLogic with exclusive, FIFO-ordered access to the
// named lock. It enqueues a lock entry, waits until no older entry of the
// same name remains, runs atomicLogic exactly once, then releases the lock
// by deleting its entry. There is no direct handoff to the next-in-line
// entry: that entry is granted when its own poll finds this one gone.
//
// unlock is passed to atomicLogic so logic that wants to release early (and
// accept arbitrary diagnostic arguments, mirroring the original callback
// shape) can do so; Transaction also releases on return if atomicLogic
// didn't already. Whatever arguments unlock is called with are forwarded to
// afterUnlock, which runs at most once, while entry is still the lock's
// holder of record. No other waiter's poll of the reserved collection can
// observe the lock as free until afterUnlock has returned. afterUnlock may
// be nil.
func (m *Manager) Transaction(ctx context.Context, name string, atomicLogic func(unlock func(...any)), afterUnlock func(...any)) error {
	entry, err := m.enqueue(ctx, name)
	if err != nil {
		return err
	}

	if err := m.waitForTurn(ctx, entry); err != nil {
		// entry never reached the head of its queue, so atomicLogic never
		// ran and there is nothing for afterUnlock to run after; just clear
		// the orphaned queue row.
		m.forceRelease(ctx, entry)
		return err
	}

	var released sync.Once
	var timer *time.Timer
	if m.warnAfter > 0 {
		timer = time.AfterFunc(m.warnAfter, func() {
			m.log.Warnf("lock %q held by %s longer than %s", name, entry.UUID, m.warnAfter)
		})
	}

	release := func(args []any) {
		released.Do(func() {
			if timer != nil {
				timer.Stop()
			}
			m.release(ctx, entry, args, afterUnlock)
		})
	}
	defer release(nil)

	unlock := func(args ...any) {
		release(args)
	}
	atomicLogic(unlock)
	return nil
}

// enqueue inserts a new lock entry and returns it with the adapter-assigned id.
func (m *Manager) enqueue(ctx context.Context, name string) (LockEntry, error) {
	now := time.Now()
	rec, err := m.store.Create(ctx, m.collection, adapter.Record{
		"uuid":       uuid.New().String(),
		"name":       name,
		"enqueuedAt": now,
	})
	if err != nil {
		return LockEntry{}, fmt.Errorf("lockmanager: enqueue %q: %w", name, err)
	}
	return recordToEntry(rec), nil
}

// waitForTurn blocks until entry is the oldest surviving lock entry with
// its name, i.e. no conflicting entry remains ahead of it in the queue.
func (m *Manager) waitForTurn(ctx context.Context, entry LockEntry) error {
	ticker := time.NewTicker(m.scanEvery)
	defer ticker.Stop()

	for {
		ahead, err := m.scan(ctx, entry)
		if err != nil {
			return err
		}
		if len(ahead) == 0 {
			return nil
		}
		if m.staleAfter > 0 {
			m.clearStale(ctx, ahead)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan returns the entries of the same name with a smaller adapter-assigned
// id than entry, i.e. the entries that must release before entry may run.
func (m *Manager) scan(ctx context.Context, entry LockEntry) ([]LockEntry, error) {
	records, err := m.store.Find(ctx, m.collection, adapter.Criterion{
		Where: map[string]any{"name": entry.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("lockmanager: scan %q: %w", entry.Name, err)
	}

	entries := make([]LockEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, recordToEntry(r))
	}
	sortByID(entries)

	var ahead []LockEntry
	for _, e := range entries {
		if e.UUID != entry.UUID && e.ID < entry.ID {
			ahead = append(ahead, e)
		}
	}
	return ahead, nil
}

// clearStale deletes entries older than staleAfter, treating them as
// abandoned by a crashed or killed holder.
func (m *Manager) clearStale(ctx context.Context, entries []LockEntry) {
	cutoff := time.Now().Add(-m.staleAfter)
	for _, e := range entries {
		if e.EnqueuedAt.IsZero() || e.EnqueuedAt.After(cutoff) {
			continue
		}
		m.log.Warnf("clearing stale lock entry %s (name=%q, age>%s)", e.UUID, e.Name, m.staleAfter)
		if _, err := m.store.Destroy(ctx, m.collection, adapter.Criterion{
			Where: map[string]any{"uuid": e.UUID},
		}); err != nil {
			m.log.Errorf("failed clearing stale lock entry %s: %v", e.UUID, err)
		}
	}
}

// release runs afterUnlock (if any) with the args forwarded from unlock,
// then deletes entry's row so the next-in-line entry (smallest id among
// remaining same-name entries) can be granted on its next poll. afterUnlock
// runs before the delete rather than after: waiters here discover a release
// by independently polling the reserved collection rather than through an
// explicit in-process promotion call, so the delete is the only signal that
// makes the lock look free. Running afterUnlock first is what keeps that
// signal from firing before cleanup is done (see DESIGN.md).
func (m *Manager) release(ctx context.Context, entry LockEntry, args []any, afterUnlock func(...any)) {
	if afterUnlock != nil {
		afterUnlock(args...)
	}
	if _, err := m.store.Destroy(ctx, m.collection, adapter.Criterion{
		Where: map[string]any{"uuid": entry.UUID},
	}); err != nil {
		m.log.Errorf("failed releasing lock entry %s: %v", entry.UUID, err)
	}
}

// forceRelease is used when waitForTurn itself fails (e.g. context
// cancellation) and the entry must still be cleared so it doesn't block
// whoever is next.
func (m *Manager) forceRelease(ctx context.Context, entry LockEntry) {
	m.release(context.WithoutCancel(ctx), entry, nil, nil)
}

func recordToEntry(r adapter.Record) LockEntry {
	entry := LockEntry{}
	if v, ok := r["uuid"].(string); ok {
		entry.UUID = v
	}
	if v, ok := r["name"].(string); ok {
		entry.Name = v
	}
	entry.ID = toInt64(r["id"])
	switch v := r["enqueuedAt"].(type) {
	case time.Time:
		entry.EnqueuedAt = v
	case string:
		// Adapters that store dates as text (sqlite) return RFC 3339 strings.
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			entry.EnqueuedAt = t
		}
	}
	return entry
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// sortByID gives scan a deterministic view of queue order independent of
// what order the adapter returns Find results in.
func sortByID(entries []LockEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}
