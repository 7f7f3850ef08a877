// Package adapter defines the contract a backing store must satisfy to be
// wrapped by a facade.Facade, plus the optional capability interfaces an
// adapter may additionally implement. A facade probes for these capabilities
// once, at construction, and memoizes the result — it never re-checks on
// every call.
package adapter

import "context"

// Adapter is the minimum contract every backing store must implement.
// Everything else (Describable, Alterable, BatchCreatable, ...) is optional;
// the facade supplies a default implementation when an adapter doesn't
// implement a capability.
type Adapter interface {
	// Identity returns a short, stable name for this adapter ("sqlite", "postgres", "redis", ...).
	Identity() string

	Create(ctx context.Context, collection string, values Record) (Record, error)
	Find(ctx context.Context, collection string, criteria Criterion) ([]Record, error)
	Update(ctx context.Context, collection string, criteria Criterion, values Record) (int64, error)
	Destroy(ctx context.Context, collection string, criteria Criterion) (int64, error)

	Drop(ctx context.Context, collection string) error
}

// Initializer is implemented by adapters with one-time process-level setup
// (e.g. opening a connection pool). Facade.Initialize forwards to it if
// present and calls back immediately otherwise.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Teardowner is the symmetric counterpart of Initializer.
type Teardowner interface {
	Teardown(ctx context.Context) error
}

// CollectionLifecycler receives per-collection lifecycle notifications.
// Adapters without interesting per-collection setup need not implement it.
type CollectionLifecycler interface {
	InitializeCollection(ctx context.Context, collection string) error
	TeardownCollection(ctx context.Context, collection string) error
}

// Describable is implemented by adapters that can report a collection's
// current attribute set and can create collections with an explicit schema.
type Describable interface {
	Define(ctx context.Context, collection string, attrs []Attribute) error
	// Describe returns (nil, nil) if the collection does not exist.
	Describe(ctx context.Context, collection string) ([]Attribute, error)
}

// Alterable is implemented by adapters that can evolve a collection's schema
// in place. When absent, the facade falls back to AddRemoveAttributer if
// available, or to a safe no-op otherwise (see schemadiff).
type Alterable interface {
	Alter(ctx context.Context, collection string, target []Attribute) error
}

// AddRemoveAttributer is the finer-grained capability schemadiff.Apply uses
// to synthesize Alter when an adapter doesn't provide it natively.
type AddRemoveAttributer interface {
	AddAttribute(ctx context.Context, collection string, attr Attribute) error
	RemoveAttribute(ctx context.Context, collection string, attr Attribute) error
}

// Countable is implemented by adapters that can count matching records
// without fetching them. Facade.Count falls back to len(FindAll(...)).
type Countable interface {
	Count(ctx context.Context, collection string, criteria Criterion) (int64, error)
}

// BatchCreatable is implemented by adapters with a native, presumed-atomic
// multi-row insert. Facade.CreateEach falls back to a transaction-wrapped
// sequential loop when absent.
type BatchCreatable interface {
	CreateEach(ctx context.Context, collection string, values []Record) ([]Record, error)
}

// NativeFindOrCreatable is implemented by adapters with a native, presumed-
// atomic find-or-create. Facade.FindOrCreate falls back to a transaction-
// wrapped find-then-create sequence when absent.
type NativeFindOrCreatable interface {
	FindOrCreate(ctx context.Context, collection string, criteria Criterion, values Record) (Record, bool, error)
}

// MonotonicIDs is implemented by adapters that assign an ever-increasing,
// insertion-ordered identifier to every created record (e.g. SQL
// AUTOINCREMENT/SERIAL). The lock manager requires this capability from
// whatever adapter backs its transaction collection — without it, lock
// ordering cannot be derived from assigned ids (see spec §9 Open Question,
// resolved in SPEC_FULL.md §7.1).
type MonotonicIDs interface {
	AssignsMonotonicIDs() bool
}
