// Package redis is a reference adapter.Adapter backed by redis/go-redis/v9.
// It deliberately implements only the base Adapter contract — no
// Describable, Alterable, or MonotonicIDs — so it exercises the facade's
// capability-fallback paths (synthesized alter-as-no-op, lock-manager-backed
// compound ops) rather than duplicating what the sqlite and postgres
// adapters already cover natively. It is barred from backing the lock
// manager's own transaction collection for the same reason.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redbco/strata/pkg/adapter"
	"github.com/redbco/strata/pkg/logger"
)

// Config carries the connection parameters for Open.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// Adapter is a redis-backed adapter.Adapter storing each record as a hash,
// keyed "<collection>:<id>", with a per-collection set "<collection>:__ids"
// tracking every live id for Find/Destroy to scan.
type Adapter struct {
	client *redis.Client
	log    *logger.Logger
}

// Open connects to redis per cfg and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, adapter.WrapError("redis", "ping", err)
	}
	return &Adapter{client: client, log: logger.New("redis")}, nil
}

// Identity returns "redis".
func (a *Adapter) Identity() string { return "redis" }

// Teardown closes the client connection.
func (a *Adapter) Teardown(ctx context.Context) error {
	return a.client.Close()
}

func idsKey(collection string) string  { return collection + ":__ids" }
func seqKey(collection string) string  { return collection + ":__seq" }
func recordKey(collection, id string) string { return collection + ":" + id }

// Create inserts values into collection under a freshly assigned id and
// returns the stored record, including the id.
func (a *Adapter) Create(ctx context.Context, collection string, values adapter.Record) (adapter.Record, error) {
	id, err := a.client.Incr(ctx, seqKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: create %q: %w", collection, err)
	}
	idStr := strconv.FormatInt(id, 10)

	record := adapter.Record{}
	for k, v := range values {
		record[k] = v
	}
	record["id"] = float64(id)

	fields := encodeFields(record)
	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, recordKey(collection, idStr), fields)
	pipe.SAdd(ctx, idsKey(collection), idStr)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: create %q: %w", collection, err)
	}
	return record, nil
}

// Find returns every record in collection matching criteria.
func (a *Adapter) Find(ctx context.Context, collection string, criteria adapter.Criterion) ([]adapter.Record, error) {
	ids, err := a.client.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: find %q: %w", collection, err)
	}

	records := make([]adapter.Record, 0, len(ids))
	for _, id := range ids {
		fields, err := a.client.HGetAll(ctx, recordKey(collection, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: find %q: %w", collection, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec := decodeFields(fields)
		if matches(rec, criteria.Where) {
			records = append(records, rec)
		}
	}

	if criteria.Comparator != nil {
		sort.SliceStable(records, func(i, j int) bool { return criteria.Comparator(records[i], records[j]) })
	} else {
		applyOrder(records, criteria.Order)
	}
	return applyLimitSkipOffset(records, criteria.Limit, criteria.Skip, criteria.Offset), nil
}

// Update applies values to every record in collection matching criteria and
// returns the number of records modified.
func (a *Adapter) Update(ctx context.Context, collection string, criteria adapter.Criterion, values adapter.Record) (int64, error) {
	ids, err := a.client.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: update %q: %w", collection, err)
	}

	var modified int64
	for _, id := range ids {
		fields, err := a.client.HGetAll(ctx, recordKey(collection, id)).Result()
		if err != nil {
			return modified, fmt.Errorf("redis: update %q: %w", collection, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec := decodeFields(fields)
		if !matches(rec, criteria.Where) {
			continue
		}
		if len(values) > 0 {
			if err := a.client.HSet(ctx, recordKey(collection, id), encodeFields(values)).Err(); err != nil {
				return modified, fmt.Errorf("redis: update %q: %w", collection, err)
			}
		}
		modified++
	}
	return modified, nil
}

// Destroy deletes every record in collection matching criteria and returns
// the number deleted.
func (a *Adapter) Destroy(ctx context.Context, collection string, criteria adapter.Criterion) (int64, error) {
	ids, err := a.client.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: destroy %q: %w", collection, err)
	}

	var deleted int64
	for _, id := range ids {
		fields, err := a.client.HGetAll(ctx, recordKey(collection, id)).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis: destroy %q: %w", collection, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec := decodeFields(fields)
		if !matches(rec, criteria.Where) {
			continue
		}
		pipe := a.client.TxPipeline()
		pipe.Del(ctx, recordKey(collection, id))
		pipe.SRem(ctx, idsKey(collection), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("redis: destroy %q: %w", collection, err)
		}
		deleted++
	}
	return deleted, nil
}

// Drop deletes every record and bookkeeping key belonging to collection.
func (a *Adapter) Drop(ctx context.Context, collection string) error {
	ids, err := a.client.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return fmt.Errorf("redis: drop %q: %w", collection, err)
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, recordKey(collection, id))
	}
	keys = append(keys, idsKey(collection), seqKey(collection))
	if len(keys) == 0 {
		return nil
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: drop %q: %w", collection, err)
	}
	return nil
}

func matches(rec adapter.Record, where map[string]any) bool {
	for k, want := range where {
		got, ok := rec[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func applyOrder(records []adapter.Record, order []adapter.SortClause) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, clause := range order {
			a, b := fmt.Sprint(records[i][clause.Attribute]), fmt.Sprint(records[j][clause.Attribute])
			if a == b {
				continue
			}
			if clause.Direction < 0 {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func applyLimitSkipOffset(records []adapter.Record, limit, skip, offset int) []adapter.Record {
	start := skip + offset
	if start >= len(records) {
		return nil
	}
	records = records[start:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func encodeFields(rec adapter.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		switch x := v.(type) {
		case bool:
			if x {
				out[k] = "1"
			} else {
				out[k] = "0"
			}
		case time.Time:
			out[k] = x.UTC().Format(time.RFC3339Nano)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func decodeFields(fields map[string]string) adapter.Record {
	rec := adapter.Record{}
	for k, v := range fields {
		if n, err := strconv.ParseFloat(v, 64); err == nil && !strings.ContainsAny(v, " \t") {
			rec[k] = n
			continue
		}
		rec[k] = v
	}
	return rec
}
