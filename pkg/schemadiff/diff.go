// Package schemadiff computes and applies the additions, removals, and
// replacements between a collection's current attribute set and a target
// attribute set — the algorithm behind Facade.Alter when the adapter
// implements AddAttribute/RemoveAttribute but not a native Alter.
package schemadiff

import (
	"context"

	"github.com/redbco/strata/pkg/adapter"
	"golang.org/x/sync/errgroup"
)

// Diff is the result of comparing a current attribute set against a target
// attribute set.
type Diff struct {
	// Added holds attributes present in target but absent from current,
	// plus attributes whose definition changed (drop-then-re-add).
	Added []adapter.Attribute
	// Removed holds attributes present in current but absent from target,
	// plus attributes whose definition changed.
	Removed []adapter.Attribute
}

// Compute implements spec §4.3 step 2: attributes only in target are added;
// attributes only in current are removed; attributes present in both but
// whose definitions differ are removed from current and re-added with the
// target definition.
func Compute(current, target []adapter.Attribute) Diff {
	currentByName := indexByName(current)
	targetByName := indexByName(target)

	var diff Diff
	for name, targetAttr := range targetByName {
		currentAttr, existed := currentByName[name]
		switch {
		case !existed:
			diff.Added = append(diff.Added, targetAttr)
		case !currentAttr.Equal(targetAttr):
			diff.Removed = append(diff.Removed, currentAttr)
			diff.Added = append(diff.Added, targetAttr)
		}
	}
	for name, currentAttr := range currentByName {
		if _, stillWanted := targetByName[name]; !stillWanted {
			diff.Removed = append(diff.Removed, currentAttr)
		}
	}
	return diff
}

func indexByName(attrs []adapter.Attribute) map[string]adapter.Attribute {
	out := make(map[string]adapter.Attribute, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a
	}
	return out
}

// Apply applies a Diff against an AddRemoveAttributer, adding every new or
// changed attribute concurrently, waiting for every add to complete, and
// only then removing every dropped or changed attribute concurrently. Adds
// completing before removes begin is the only ordering guarantee spec §4.3
// makes; within each phase, order is unspecified.
func Apply(ctx context.Context, store adapter.AddRemoveAttributer, collection string, diff Diff) error {
	addGroup, addCtx := errgroup.WithContext(ctx)
	for _, attr := range diff.Added {
		attr := attr
		addGroup.Go(func() error {
			return store.AddAttribute(addCtx, collection, attr)
		})
	}
	if err := addGroup.Wait(); err != nil {
		return err
	}

	removeGroup, removeCtx := errgroup.WithContext(ctx)
	for _, attr := range diff.Removed {
		attr := attr
		removeGroup.Go(func() error {
			return store.RemoveAttribute(removeCtx, collection, attr)
		})
	}
	return removeGroup.Wait()
}
