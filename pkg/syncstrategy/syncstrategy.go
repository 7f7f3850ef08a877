// Package syncstrategy implements the three ways a collection's live schema
// can be reconciled with its declared attribute set at startup: destroy and
// recreate, evolve in place, or leave alone.
package syncstrategy

import (
	"context"
	"fmt"

	"github.com/redbco/strata/pkg/attribute"
	"github.com/redbco/strata/pkg/facade"
)

// Strategy names one of the three reconciliation behaviors Apply dispatches on.
type Strategy string

const (
	// StrategyDrop destroys and recreates the collection on every startup,
	// losing all data. Suited to throwaway/test collections only.
	StrategyDrop Strategy = "drop"
	// StrategyAlter evolves the live schema toward the declared attributes
	// via Facade.Alter, preserving data where the adapter can.
	StrategyAlter Strategy = "alter"
	// StrategySafe only creates the collection if it doesn't exist yet; an
	// existing collection's schema is never touched.
	StrategySafe Strategy = "safe"
)

// Declared is the attribute set a caller wants a collection to end up with,
// in the same shorthand Facade.Define accepts.
type Declared = map[string]attribute.Shorthand

// Apply reconciles collection's live schema with declared according to strategy.
func Apply(ctx context.Context, f *facade.Facade, strategy Strategy, collection string, declared Declared) error {
	switch strategy {
	case StrategyDrop:
		return Drop(ctx, f, collection, declared)
	case StrategyAlter:
		return Alter(ctx, f, collection, declared)
	case StrategySafe:
		return Safe(ctx, f, collection, declared)
	default:
		return fmt.Errorf("syncstrategy: unknown strategy %q", strategy)
	}
}

// Drop destroys collection if it exists, then recreates it from declared.
func Drop(ctx context.Context, f *facade.Facade, collection string, declared Declared) error {
	if err := f.Drop(ctx, collection); err != nil {
		return fmt.Errorf("syncstrategy: drop %q: %w", collection, err)
	}
	if err := f.Define(ctx, collection, declared); err != nil {
		return fmt.Errorf("syncstrategy: redefine %q: %w", collection, err)
	}
	return nil
}

// Alter creates collection from declared if it doesn't exist yet, or evolves
// its live schema toward declared via Facade.Alter if it does.
func Alter(ctx context.Context, f *facade.Facade, collection string, declared Declared) error {
	current, err := f.Describe(ctx, collection)
	if err != nil {
		return fmt.Errorf("syncstrategy: describe %q: %w", collection, err)
	}
	if current == nil {
		if err := f.Define(ctx, collection, declared); err != nil {
			return fmt.Errorf("syncstrategy: define %q: %w", collection, err)
		}
		return nil
	}

	target, err := f.AugmentedAttributes(declared)
	if err != nil {
		return fmt.Errorf("syncstrategy: augment %q: %w", collection, err)
	}
	if err := f.Alter(ctx, collection, target); err != nil {
		return fmt.Errorf("syncstrategy: alter %q: %w", collection, err)
	}
	return nil
}

// Safe creates collection from declared only if it doesn't already exist.
// An existing collection is never altered, even if its schema disagrees
// with declared — the caller accepts drift rather than risking data loss.
func Safe(ctx context.Context, f *facade.Facade, collection string, declared Declared) error {
	current, err := f.Describe(ctx, collection)
	if err != nil {
		return fmt.Errorf("syncstrategy: describe %q: %w", collection, err)
	}
	if current != nil {
		return nil
	}
	if err := f.Define(ctx, collection, declared); err != nil {
		return fmt.Errorf("syncstrategy: define %q: %w", collection, err)
	}
	return nil
}
