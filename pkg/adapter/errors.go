package adapter

import (
	"errors"
	"fmt"
)

// Standard adapter/facade errors.
var (
	// ErrOperationNotSupported is returned when an operation is not supported by the adapter.
	ErrOperationNotSupported = errors.New("operation not supported by this adapter")

	// ErrAdapterNotFound is returned when an adapter is not registered under a name.
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("no such collection")

	// ErrInvalidConfiguration is returned when adapter or facade configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// UnsupportedOperationError is returned when an adapter does not implement
// an optional capability and the facade has no safe default for it.
type UnsupportedOperationError struct {
	Adapter   string
	Operation string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s does not support %s: %s", e.Adapter, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s does not support %s", e.Adapter, e.Operation)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return errors.Is(target, ErrOperationNotSupported)
}

// NewUnsupportedOperationError creates a new UnsupportedOperationError.
func NewUnsupportedOperationError(adapterName, operation, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Adapter: adapterName, Operation: operation, Reason: reason}
}

// ConfigurationError is returned when a configuration value is invalid.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return errors.Is(target, ErrInvalidConfiguration)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// CollectionExistsError is returned by Define when the collection already exists.
type CollectionExistsError struct {
	Collection string
}

func (e *CollectionExistsError) Error() string {
	return fmt.Sprintf("trying to define a collection (%s) which already exists", e.Collection)
}

// CollectionNotFoundError is returned by facade operations whose algorithm
// depends on the collection already being defined (e.g. Alter, which diffs
// against the collection's current schema) when Describe reports it does
// not exist.
type CollectionNotFoundError struct {
	Operation  string
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("%s: no such collection %q", e.Operation, e.Collection)
}

func (e *CollectionNotFoundError) Is(target error) bool {
	return errors.Is(target, ErrCollectionNotFound)
}

// NewCollectionNotFoundError creates a new CollectionNotFoundError.
func NewCollectionNotFoundError(operation, collection string) *CollectionNotFoundError {
	return &CollectionNotFoundError{Operation: operation, Collection: collection}
}

// TooManyResultsError is returned by Find when more than one record matches.
type TooManyResultsError struct {
	Collection string
	Count      int
}

func (e *TooManyResultsError) Error() string {
	return fmt.Sprintf("more than one record was returned from %s (%d matched)", e.Collection, e.Count)
}

// WrapError wraps an adapter-originated error with operation context as
// "[adapterName] operation: err", or returns nil for a nil err. It wraps
// unconditionally: an error that already carries the same prefix gets it
// a second time.
func WrapError(adapterName, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", adapterName, operation, err)
}

// IsUnsupported reports whether err indicates an unsupported operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrOperationNotSupported)
}
