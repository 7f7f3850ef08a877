// Package adapter defines the contracts a backing store implements to be
// wrapped by facade.Facade, plus the error types and name-keyed registry
// used to pick an adapter by name at startup.
//
// An adapter implements Adapter plus zero or more optional capability
// interfaces (Describable, Alterable, Countable, ...). facade.New performs
// a one-time set of type assertions against those interfaces and memoizes
// which defaults it needs to supply, per the capability-checks-once design
// in SPEC_FULL.md §2.
package adapter
