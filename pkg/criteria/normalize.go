// Package criteria canonicalizes the heterogeneous shapes callers may pass
// as query criteria into the single adapter.Criterion shape the facade and
// every adapter operate on.
package criteria

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redbco/strata/pkg/adapter"
)

// operationalKeys are the map keys whose presence means "this map is
// already a criterion", not "this map is a where clause". Per spec, "sort"
// is deliberately not one of them — a bare {"sort": ...} map still gets
// wrapped into a where clause, same as any other non-operational map.
var operationalKeys = map[string]struct{}{
	"where":  {},
	"limit":  {},
	"skip":   {},
	"offset": {},
	"order":  {},
}

// Normalize canonicalizes input into an adapter.Criterion, or returns an
// error if input cannot be interpreted as criteria at all.
//
// Normalize is idempotent: Normalize(Normalize(c)) produces the same result
// as Normalize(c), because re-normalizing an already-canonical Criterion
// only re-applies the numeric-string where-value rewrite, which is itself
// idempotent; its Order and Comparator pass through unchanged.
func Normalize(input any) (adapter.Criterion, error) {
	switch v := input.(type) {
	case nil:
		return adapter.Criterion{Where: nil}, nil

	case adapter.Criterion:
		return normalizeCriterion(v)

	case *adapter.Criterion:
		if v == nil {
			return adapter.Criterion{Where: nil}, nil
		}
		return normalizeCriterion(*v)

	case map[string]any:
		return normalizeMap(v)

	case string:
		if n, ok := parsePositiveFiniteNumber(v); ok {
			return adapter.Criterion{Where: map[string]any{"id": n}}, nil
		}
		return adapter.Criterion{}, fmt.Errorf("Invalid options/criteria")

	default:
		if n, ok := toPositiveFiniteNumber(v); ok {
			return adapter.Criterion{Where: map[string]any{"id": n}}, nil
		}
		return adapter.Criterion{}, fmt.Errorf("Invalid options/criteria")
	}
}

func normalizeMap(m map[string]any) (adapter.Criterion, error) {
	hasOperationalKey := false
	for k := range m {
		if _, ok := operationalKeys[k]; ok {
			hasOperationalKey = true
			break
		}
	}

	if !hasOperationalKey {
		where, err := normalizeWhere(stripUndefined(m))
		if err != nil {
			return adapter.Criterion{}, err
		}
		return adapter.Criterion{Where: where}, nil
	}

	crit := adapter.Criterion{}
	m = stripUndefined(m)

	if w, ok := m["where"]; ok {
		where, err := normalizeWhere(asMap(w))
		if err != nil {
			return adapter.Criterion{}, err
		}
		crit.Where = where
	}
	if l, ok := m["limit"]; ok {
		crit.Limit = asInt(l)
	}
	if s, ok := m["skip"]; ok {
		crit.Skip = asInt(s)
	}
	if o, ok := m["offset"]; ok {
		crit.Offset = asInt(o)
	}
	if ord, ok := m["order"]; ok {
		clauses, cmp, err := normalizeSort(ord)
		if err != nil {
			return adapter.Criterion{}, err
		}
		crit.Order = clauses
		crit.Comparator = cmp
	}
	if sortVal, ok := m["sort"]; ok {
		clauses, cmp, err := normalizeSort(sortVal)
		if err != nil {
			return adapter.Criterion{}, err
		}
		crit.Order = clauses
		crit.Comparator = cmp
	}

	return crit, nil
}

func normalizeCriterion(c adapter.Criterion) (adapter.Criterion, error) {
	where, err := normalizeWhere(c.Where)
	if err != nil {
		return adapter.Criterion{}, err
	}
	c.Where = where
	return c, nil
}

// normalizeWhere strips undefined values and rewrites nonzero finite
// numeric-looking values to their parsed number, per spec §4.1.
func normalizeWhere(where map[string]any) (map[string]any, error) {
	if where == nil {
		return nil, nil
	}
	where = stripUndefined(where)
	out := make(map[string]any, len(where))
	for k, v := range where {
		if s, ok := v.(string); ok {
			if n, ok := parseNonzeroFiniteNumber(s); ok {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out, nil
}

func normalizeSort(v any) ([]adapter.SortClause, adapter.Comparator, error) {
	switch s := v.(type) {
	case adapter.Comparator:
		return nil, s, nil
	case func(a, b adapter.Record) bool:
		return nil, adapter.Comparator(s), nil
	case []adapter.SortClause:
		return s, nil, nil
	case map[string]int:
		clauses := make([]adapter.SortClause, 0, len(s))
		for attr, dir := range s {
			if dir != 1 && dir != -1 {
				return nil, nil, fmt.Errorf("Invalid sort direction for %q: must be 1 or -1", attr)
			}
			clauses = append(clauses, adapter.SortClause{Attribute: attr, Direction: dir})
		}
		return clauses, nil, nil
	case map[string]any:
		clauses := make([]adapter.SortClause, 0, len(s))
		for attr, raw := range s {
			dir := asInt(raw)
			if dir != 1 && dir != -1 {
				return nil, nil, fmt.Errorf("Invalid sort direction for %q: must be 1 or -1", attr)
			}
			clauses = append(clauses, adapter.SortClause{Attribute: attr, Direction: dir})
		}
		return clauses, nil, nil
	case string:
		parts := strings.Fields(s)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, nil, fmt.Errorf("Invalid sort string %q", s)
		}
		attr := parts[0]
		dir := 1
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
				dir = 1
			case "desc":
				dir = -1
			default:
				return nil, nil, fmt.Errorf("Invalid sort direction %q", parts[1])
			}
		}
		return []adapter.SortClause{{Attribute: attr, Direction: dir}}, nil, nil
	default:
		return nil, nil, fmt.Errorf("Invalid sort/order value: %v", v)
	}
}

func stripUndefined(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func toPositiveFiniteNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case int32:
		n = float64(x)
	case float64:
		n = x
	case float32:
		n = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, false
	}
	return n, true
}

func parsePositiveFiniteNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseNonzeroFiniteNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n == 0 {
		return 0, false
	}
	return n, true
}
