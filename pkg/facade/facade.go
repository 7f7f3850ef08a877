// Package facade wraps an adapter.Adapter with the uniform, capability-
// independent surface every collection consumer programs against: the
// optional-capability gaps a given adapter leaves (no native Alter, no
// native CreateEach, no native FindOrCreate) are filled with synthesized
// defaults, computed once at construction rather than re-probed per call.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/attribute"
	critpkg "github.com/redbco/strata/pkg/criteria"
	"github.com/redbco/strata/pkg/lockmanager"
	"github.com/redbco/strata/pkg/logger"
	"github.com/redbco/strata/pkg/schemadiff"
)

// Config carries the facade-level behavior flags threaded down into every
// Create/Update call: whether to stamp createdAt/updatedAt automatically.
type Config struct {
	CreatedAt bool
	UpdatedAt bool
}

// Facade is the uniform entry point wrapping a single adapter.Adapter
// instance. Construct with New; the zero value is not usable.
type Facade struct {
	store adapter.Adapter
	cfg   Config
	log   *logger.Logger

	initializer           adapter.Initializer
	teardowner            adapter.Teardowner
	collectionLifecycler  adapter.CollectionLifecycler
	describable           adapter.Describable
	alterable             adapter.Alterable
	addRemoveAttributer   adapter.AddRemoveAttributer
	countable             adapter.Countable
	batchCreatable        adapter.BatchCreatable
	nativeFindOrCreatable adapter.NativeFindOrCreatable

	// locks backs the synthesized-atomicity fallback paths for CreateEach,
	// FindOrCreate, and FindOrCreateEach when store doesn't provide a
	// native equivalent. It is optional: without it, the fallback paths
	// still run, just without the cross-process exclusivity guarantee.
	locks *lockmanager.Manager
}

// New wraps store in a Facade. locks may be nil; if so, the synthesized
// compound-operation fallbacks run without cross-process exclusivity.
func New(store adapter.Adapter, cfg Config, locks *lockmanager.Manager) *Facade {
	f := &Facade{
		store: store,
		cfg:   cfg,
		log:   logger.New("facade." + store.Identity()),
		locks: locks,
	}
	f.initializer, _ = store.(adapter.Initializer)
	f.teardowner, _ = store.(adapter.Teardowner)
	f.collectionLifecycler, _ = store.(adapter.CollectionLifecycler)
	f.describable, _ = store.(adapter.Describable)
	f.alterable, _ = store.(adapter.Alterable)
	f.addRemoveAttributer, _ = store.(adapter.AddRemoveAttributer)
	f.countable, _ = store.(adapter.Countable)
	f.batchCreatable, _ = store.(adapter.BatchCreatable)
	f.nativeFindOrCreatable, _ = store.(adapter.NativeFindOrCreatable)
	return f
}

// Identity returns the wrapped adapter's identity, for logging and wiring.
func (f *Facade) Identity() string { return f.store.Identity() }

// --- DDL ---

// Initialize forwards to the adapter's one-time setup if it implements
// Initializer, and is a no-op otherwise.
func (f *Facade) Initialize(ctx context.Context) error {
	if f.initializer == nil {
		return nil
	}
	return f.initializer.Initialize(ctx)
}

// Teardown forwards to the adapter's one-time teardown if it implements
// Teardowner, and is a no-op otherwise.
func (f *Facade) Teardown(ctx context.Context) error {
	if f.teardowner == nil {
		return nil
	}
	return f.teardowner.Teardown(ctx)
}

// InitializeCollection notifies the adapter a collection is about to be
// used, if it cares.
func (f *Facade) InitializeCollection(ctx context.Context, collection string) error {
	if f.collectionLifecycler == nil {
		return nil
	}
	return f.collectionLifecycler.InitializeCollection(ctx, collection)
}

// TeardownCollection is the symmetric counterpart of InitializeCollection.
func (f *Facade) TeardownCollection(ctx context.Context, collection string) error {
	if f.collectionLifecycler == nil {
		return nil
	}
	return f.collectionLifecycler.TeardownCollection(ctx, collection)
}

// Define creates collection with the augmented attribute set derived from
// declared (shorthand or full descriptors). Returns a *adapter.CollectionExistsError
// if the collection is already defined.
func (f *Facade) Define(ctx context.Context, collection string, declared map[string]attribute.Shorthand) error {
	if f.describable == nil {
		return adapter.NewUnsupportedOperationError(f.store.Identity(), "Define", "adapter does not implement Describable")
	}
	existing, err := f.describable.Describe(ctx, collection)
	if err != nil {
		return err
	}
	if existing != nil {
		return &adapter.CollectionExistsError{Collection: collection}
	}
	attrs, err := attribute.Augment(declared, adapter.Config{CreatedAt: f.cfg.CreatedAt, UpdatedAt: f.cfg.UpdatedAt})
	if err != nil {
		return err
	}
	return f.describable.Define(ctx, collection, attrs)
}

// AugmentedAttributes expands declared (shorthand or full descriptors) and
// injects the id/createdAt/updatedAt columns this Facade's Config calls
// for, without touching the adapter. syncstrategy uses this to compute an
// Alter target consistent with what Define would have created.
func (f *Facade) AugmentedAttributes(declared map[string]attribute.Shorthand) ([]adapter.Attribute, error) {
	return attribute.Augment(declared, adapter.Config{CreatedAt: f.cfg.CreatedAt, UpdatedAt: f.cfg.UpdatedAt})
}

// Describe returns collection's current attribute set, or (nil, nil) if it
// does not exist.
func (f *Facade) Describe(ctx context.Context, collection string) ([]adapter.Attribute, error) {
	if f.describable == nil {
		return nil, adapter.NewUnsupportedOperationError(f.store.Identity(), "Describe", "adapter does not implement Describable")
	}
	return f.describable.Describe(ctx, collection)
}

// Drop destroys collection and every record in it.
func (f *Facade) Drop(ctx context.Context, collection string) error {
	return f.store.Drop(ctx, collection)
}

// Alter evolves collection's live schema toward target. It prefers the
// adapter's native Alterable if present; otherwise it diffs the current
// schema against target with schemadiff and applies the add/remove sets
// through AddRemoveAttributer. If the adapter offers neither, Alter is a
// logged no-op rather than an error — a caller that never calls Describe
// afterward cannot tell the difference, and erroring here would make every
// non-Alterable adapter unusable for collections that never change shape.
func (f *Facade) Alter(ctx context.Context, collection string, target []adapter.Attribute) error {
	if f.alterable != nil {
		return f.alterable.Alter(ctx, collection, target)
	}
	if f.addRemoveAttributer == nil || f.describable == nil {
		f.log.Debugf("alter %q: adapter supports neither Alterable nor AddRemoveAttributer+Describable; no-op", collection)
		return nil
	}
	current, err := f.describable.Describe(ctx, collection)
	if err != nil {
		return err
	}
	if current == nil {
		return adapter.NewCollectionNotFoundError("Alter", collection)
	}
	diff := schemadiff.Compute(current, target)
	return schemadiff.Apply(ctx, f.addRemoveAttributer, collection, diff)
}

// --- DQL ---

// Create inserts values into collection, stamping per Config: createdAt
// only if not already present in values, updatedAt always (a caller-supplied
// updatedAt is overwritten with the same moment).
func (f *Facade) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	return f.store.Create(ctx, collection, f.withTimestamps(values, true))
}

// FindAll returns every record matching query, which may be any shape
// criteria.Normalize accepts.
func (f *Facade) FindAll(ctx context.Context, collection string, query any) ([]adapter.Record, error) {
	crit, err := critpkg.Normalize(query)
	if err != nil {
		return nil, err
	}
	return f.store.Find(ctx, collection, crit)
}

// Find returns the single record matching query, nil if none match, or a
// *adapter.TooManyResultsError if more than one matches.
func (f *Facade) Find(ctx context.Context, collection string, query any) (adapter.Record, error) {
	records, err := f.FindAll(ctx, collection, query)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		return records[0], nil
	default:
		return nil, &adapter.TooManyResultsError{Collection: collection, Count: len(records)}
	}
}

// Count returns the number of records matching query, using the adapter's
// native Countable if present and falling back to len(FindAll(...)) otherwise.
func (f *Facade) Count(ctx context.Context, collection string, query any) (int64, error) {
	crit, err := critpkg.Normalize(query)
	if err != nil {
		return 0, err
	}
	if f.countable != nil {
		return f.countable.Count(ctx, collection, crit)
	}
	records, err := f.store.Find(ctx, collection, crit)
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Update applies values to every record matching query and returns the
// number of records modified.
func (f *Facade) Update(ctx context.Context, collection string, query any, values adapter.Record) (int64, error) {
	crit, err := critpkg.Normalize(query)
	if err != nil {
		return 0, err
	}
	return f.store.Update(ctx, collection, crit, f.withTimestamps(values, false))
}

// Destroy deletes every record matching query and returns the number
// deleted.
func (f *Facade) Destroy(ctx context.Context, collection string, query any) (int64, error) {
	crit, err := critpkg.Normalize(query)
	if err != nil {
		return 0, err
	}
	return f.store.Destroy(ctx, collection, crit)
}

func (f *Facade) withTimestamps(values adapter.Record, isCreate bool) adapter.Record {
	if !f.cfg.CreatedAt && !f.cfg.UpdatedAt {
		return values
	}
	out := make(adapter.Record, len(values)+2)
	for k, v := range values {
		out[k] = v
	}
	now := time.Now()
	if isCreate && f.cfg.CreatedAt {
		if _, ok := out[attribute.CreatedAtAttributeName]; !ok {
			out[attribute.CreatedAtAttributeName] = now
		}
	}
	if f.cfg.UpdatedAt {
		if _, ok := out[attribute.UpdatedAtAttributeName]; !ok || isCreate {
			out[attribute.UpdatedAtAttributeName] = now
		}
	}
	return out
}

// --- Compound operations ---

// CreateEach inserts every record in each, using the adapter's native
// BatchCreatable if present. Otherwise it falls back to a sequential
// create loop wrapped in a named lock transaction (when a lock manager was
// supplied to New) so concurrent CreateEach calls against the same
// collection don't interleave.
func (f *Facade) CreateEach(ctx context.Context, collection string, each []adapter.Record) ([]adapter.Record, error) {
	if f.batchCreatable != nil {
		return f.batchCreatable.CreateEach(ctx, collection, f.withTimestampsEach(each))
	}

	run := func() ([]adapter.Record, error) { return f.createEachSequential(ctx, collection, each) }
	if f.locks == nil {
		return run()
	}

	txName := fmt.Sprintf("%s.strata.default.createEach", collection)
	var result []adapter.Record
	var txErr error
	if err := f.locks.Transaction(ctx, txName, func(unlock func(...any)) {
		result, txErr = run()
		unlock()
	}, nil); err != nil {
		return nil, err
	}
	return result, txErr
}

func (f *Facade) createEachSequential(ctx context.Context, collection string, each []adapter.Record) ([]adapter.Record, error) {
	created := make([]adapter.Record, 0, len(each))
	for _, values := range f.withTimestampsEach(each) {
		rec, err := f.store.Create(ctx, collection, values)
		if err != nil {
			return created, err
		}
		created = append(created, rec)
	}
	return created, nil
}

func (f *Facade) withTimestampsEach(each []adapter.Record) []adapter.Record {
	out := make([]adapter.Record, len(each))
	for i, v := range each {
		out[i] = f.withTimestamps(v, true)
	}
	return out
}

// FindOrCreate returns the record matching query if one exists, otherwise
// creates one from values. The boolean result reports whether a new record
// was created. Prefers the adapter's native NativeFindOrCreatable; otherwise
// falls back to a find-then-create sequence wrapped in a named lock
// transaction when a lock manager was supplied to New.
func (f *Facade) FindOrCreate(ctx context.Context, collection string, query any, values adapter.Record) (adapter.Record, bool, error) {
	crit, err := critpkg.Normalize(query)
	if err != nil {
		return nil, false, err
	}

	if len(values) == 0 {
		values = adapter.Record(crit.Where)
	}

	if f.nativeFindOrCreatable != nil {
		return f.nativeFindOrCreatable.FindOrCreate(ctx, collection, crit, f.withTimestamps(values, true))
	}

	run := func() (adapter.Record, bool, error) { return f.findOrCreateUnsafe(ctx, collection, crit, values) }
	if f.locks == nil {
		return run()
	}

	txName := fmt.Sprintf("%s.strata.default.create.findOrCreate", collection)
	var rec adapter.Record
	var created bool
	var txErr error
	if err := f.locks.Transaction(ctx, txName, func(unlock func(...any)) {
		rec, created, txErr = run()
		unlock()
	}, nil); err != nil {
		return nil, false, err
	}
	return rec, created, txErr
}

func (f *Facade) findOrCreateUnsafe(ctx context.Context, collection string, crit adapter.Criterion, values adapter.Record) (adapter.Record, bool, error) {
	records, err := f.store.Find(ctx, collection, crit)
	if err != nil {
		return nil, false, err
	}
	if len(records) > 0 {
		return records[0], false, nil
	}
	if len(values) == 0 {
		values = adapter.Record(crit.Where)
	}
	rec, err := f.store.Create(ctx, collection, f.withTimestamps(values, true))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// FindOrCreateSpec pairs a query with the values to create from if nothing
// matches it, for use with FindOrCreateEach.
type FindOrCreateSpec struct {
	Query  any
	Values adapter.Record
}

// FindOrCreateEach runs FindOrCreate for every spec, in order, inside a
// single named lock transaction (when a lock manager was supplied to New)
// so the whole batch is serialized against concurrent callers the same way
// a single FindOrCreate is.
func (f *Facade) FindOrCreateEach(ctx context.Context, collection string, specs []FindOrCreateSpec) ([]adapter.Record, error) {
	run := func() ([]adapter.Record, error) {
		results := make([]adapter.Record, 0, len(specs))
		for _, spec := range specs {
			crit, err := critpkg.Normalize(spec.Query)
			if err != nil {
				return results, err
			}
			rec, _, err := f.findOrCreateUnsafe(ctx, collection, crit, spec.Values)
			if err != nil {
				return results, err
			}
			results = append(results, rec)
		}
		return results, nil
	}
	if f.locks == nil {
		return run()
	}

	txName := fmt.Sprintf("%s.strata.default.findOrCreateEach", collection)
	var result []adapter.Record
	var txErr error
	if err := f.locks.Transaction(ctx, txName, func(unlock func(...any)) {
		result, txErr = run()
		unlock()
	}, nil); err != nil {
		return nil, err
	}
	return result, txErr
}
