// Package filter evaluates metadata predicates.
//
// A filter is a map {field → condition}. A condition is either a scalar
// (implicit equality) or a map {operator → operand}. Several operators under
// one field AND together, as do several fields. Values are decoded JSON:
// nil, bool, float64, string, []any.
package filter

import (
	"strings"

	serrors "lodestone/internal/errors"
)

// Filter is a predicate map evaluated against document metadata.
type Filter map[string]any

// Matches evaluates the filter against a metadata map. A field absent from
// the metadata evaluates as a nil value. Unknown operators fail the call
// with a validation error; they never silently pass.
func (f Filter) Matches(metadata map[string]any) (bool, error) {
	for field, condition := range f {
		var value any
		if metadata != nil {
			value = metadata[field]
		}

		cond, ok := condition.(map[string]any)
		if !ok {
			// Scalar condition is shorthand for equality.
			if !equal(value, condition) {
				return false, nil
			}
			continue
		}

		for op, operand := range cond {
			match, err := applyOperator(value, op, operand)
			if err != nil {
				return false, err
			}
			if !match {
				return false, nil
			}
		}
	}
	return true, nil
}

// applyOperator evaluates one operator against a field value. A nil value
// means the field was absent.
func applyOperator(value any, op string, operand any) (bool, error) {
	switch op {
	case "==":
		return equal(value, operand), nil
	case "!=":
		return !equal(value, operand), nil
	case "<", "<=", ">", ">=":
		cmp, ok := compare(value, operand)
		if !ok {
			return false, nil
		}
		switch op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "in":
		list, ok := operand.([]any)
		if !ok {
			return false, nil
		}
		return contains(list, value), nil
	case "not_in":
		list, ok := operand.([]any)
		if !ok {
			return true, nil
		}
		return !contains(list, value), nil
	case "contains":
		switch v := value.(type) {
		case string:
			s, ok := operand.(string)
			return ok && strings.Contains(v, s), nil
		case []any:
			return contains(v, operand), nil
		default:
			return false, nil
		}
	case "starts_with":
		v, vok := value.(string)
		s, sok := operand.(string)
		return vok && sok && strings.HasPrefix(v, s), nil
	case "ends_with":
		v, vok := value.(string)
		s, sok := operand.(string)
		return vok && sok && strings.HasSuffix(v, s), nil
	case "is_true":
		return value == true, nil
	case "is_false":
		return value == false, nil
	default:
		return false, serrors.Validationf("Unknown filter operator: %s", op)
	}
}

// equal compares two JSON values, coercing numeric types so 1 == 1.0.
func equal(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compare orders two values when both are numbers or both are strings.
// Mixed or unordered types report ok=false, which fails the condition
// rather than erroring the evaluation.
func compare(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func contains(list []any, value any) bool {
	for _, item := range list {
		if equal(item, value) {
			return true
		}
	}
	return false
}

// asFloat widens any Go numeric to float64. JSON decoding produces float64,
// but callers constructing metadata in code may use native ints.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
