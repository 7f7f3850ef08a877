package config

import (
	"maps"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/logger"
)

// Value pairs a configuration key with the parser that turns its raw
// string form into T. Bool and Duration below are the two concrete
// instances this package understands; a new typed key needs only a new
// Value, not a new pair of hand-written Get.../Get...E methods.
type Value[T any] struct {
	Key   string
	Parse func(string) (T, error)
}

// Bool is the Value for a configuration key stored as "true"/"false".
func Bool(key string) Value[bool] {
	return Value[bool]{Key: key, Parse: strconv.ParseBool}
}

// Duration is the Value for a configuration key stored as a duration
// string (e.g. "250ms").
func Duration(key string) Value[time.Duration] {
	return Value[time.Duration]{Key: key, Parse: time.ParseDuration}
}

// knownValues lists every typed key this package validates as soon as it
// is written, rather than waiting for some later Resolve call to discover
// a bad value. Keyed by name since Update looks a key up by string.
var knownValues = map[string]func(string) error{
	"facade.createdAt":         func(v string) error { return validate(Bool("facade.createdAt"), v) },
	"facade.updatedAt":         func(v string) error { return validate(Bool("facade.updatedAt"), v) },
	"lockmanager.warningTimer": func(v string) error { return validate(Duration("lockmanager.warningTimer"), v) },
	"lockmanager.staleAfter":   func(v string) error { return validate(Duration("lockmanager.staleAfter"), v) },
	"lockmanager.scanInterval": func(v string) error { return validate(Duration("lockmanager.scanInterval"), v) },
}

func validate[T any](v Value[T], raw string) error {
	if _, err := v.Parse(raw); err != nil {
		return adapter.NewConfigurationError(v.Key, err.Error())
	}
	return nil
}

// Resolve reads v's key out of c and parses it, returning an
// *adapter.ConfigurationError if the stored value doesn't parse. Every
// typed accessor below (GetBoolE, GetDurationE) is Resolve applied to one
// of the Value constructors.
func Resolve[T any](c *Config, v Value[T]) (T, error) {
	var zero T
	parsed, err := v.Parse(c.Get(v.Key))
	if err != nil {
		return zero, adapter.NewConfigurationError(v.Key, err.Error())
	}
	return parsed, nil
}

// Config manages library configuration as a flat key/value store, the way
// a caller's environment or flag set would populate it. restartKeys is a
// set rather than a list: RequiresRestart only ever asks it "is this key
// in there", never iterates it in order.
type Config struct {
	mu          sync.RWMutex
	values      map[string]string
	restartKeys map[string]struct{}
	log         *logger.Logger
}

// New creates a new, empty configuration manager.
func New() *Config {
	return &Config{
		values:      make(map[string]string),
		restartKeys: map[string]struct{}{"database.path": {}},
		log:         logger.New("config"),
	}
}

// Load builds a Config from environment variables, falling back to the
// defaults a demo or embedding process would otherwise hardcode.
func Load() *Config {
	c := New()
	c.Update(map[string]string{
		"database.path":            getenv("STRATA_DATABASE_PATH", "strata.db"),
		"facade.createdAt":         getenv("STRATA_FACADE_CREATED_AT", "true"),
		"facade.updatedAt":         getenv("STRATA_FACADE_UPDATED_AT", "true"),
		"lockmanager.warningTimer": getenv("STRATA_LOCK_WARNING_TIMER", "2s"),
		"lockmanager.staleAfter":   getenv("STRATA_LOCK_STALE_AFTER", "0s"),
		"lockmanager.scanInterval": getenv("STRATA_LOCK_SCAN_INTERVAL", "0s"),
		"sync.strategy":            getenv("STRATA_SYNC_STRATEGY", "safe"),
		"sync.collection":          getenv("STRATA_SYNC_COLLECTION", "widgets"),
	})
	return c
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Get returns key's raw string value, or "" if it was never set.
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetAll returns a snapshot of every configuration value; mutating the
// result does not affect c.
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Update writes every entry in values into c. An entry whose key is one of
// the typed keys in knownValues is validated first; an entry that fails
// validation is logged and left out rather than stored to be discovered
// broken later by whatever eventually calls GetBoolE/GetDurationE on it.
// Every other entry, typed or not, is written unconditionally.
func (c *Config) Update(values map[string]string) {
	accepted := make(map[string]string, len(values))
	for key, raw := range values {
		if validateKnown, ok := knownValues[key]; ok {
			if err := validateKnown(raw); err != nil {
				c.log.Warnf("rejecting configuration value: %v", err)
				continue
			}
		}
		accepted[key] = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range accepted {
		c.values[k] = v
	}
}

// RequiresRestart reports whether any of c's restart-sensitive keys
// differ from their value in oldConfig.
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}
	return false
}

// SetRestartKeys replaces the set of keys RequiresRestart watches.
func (c *Config) SetRestartKeys(keys []string) {
	restartKeys := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		restartKeys[key] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = restartKeys
}

// GetBool retrieves a configuration value parsed as a bool. Missing or
// unparsable values return false; use GetBoolE to see the parse error.
func (c *Config) GetBool(key string) bool {
	v, _ := c.GetBoolE(key)
	return v
}

// GetBoolE retrieves a configuration value parsed as a bool, returning an
// *adapter.ConfigurationError naming key if the stored value doesn't parse.
func (c *Config) GetBoolE(key string) (bool, error) {
	return Resolve(c, Bool(key))
}

// GetDuration retrieves a configuration value parsed as a duration
// (e.g. "250ms"). Missing or unparsable values return the zero duration;
// use GetDurationE to see the parse error.
func (c *Config) GetDuration(key string) time.Duration {
	d, _ := c.GetDurationE(key)
	return d
}

// GetDurationE retrieves a configuration value parsed as a duration,
// returning an *adapter.ConfigurationError naming key if the stored value
// doesn't parse.
func (c *Config) GetDurationE(key string) (time.Duration, error) {
	return Resolve(c, Duration(key))
}

// RequireNonEmpty returns an *adapter.ConfigurationError if key is unset or
// empty, the way a required connection parameter must be checked before an
// adapter tries to use it.
func (c *Config) RequireNonEmpty(key string) error {
	if c.Get(key) == "" {
		return adapter.NewConfigurationError(key, "must not be empty")
	}
	return nil
}
