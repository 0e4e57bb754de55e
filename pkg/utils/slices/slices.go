package slices

// Map applies f to each element of s and collects the results.
func Map[T any, R any](s []T, f func(T) R) []R {
	ret := make([]R, 0, len(s))
	for _, v := range s {
		ret = append(ret, f(v))
	}
	return ret
}

// TryMap is Map with a fallible f. It stops at the first error.
func TryMap[T any, R any](s []T, f func(T) (R, error)) ([]R, error) {
	ret := make([]R, 0, len(s))
	for _, v := range s {
		r, err := f(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// Filter collects elements of s satisfying pred, keeping their order.
func Filter[T any](s []T, pred func(T) bool) []T {
	ret := make([]T, 0, len(s))
	for _, v := range s {
		if pred(v) {
			ret = append(ret, v)
		}
	}
	return ret
}

// First returns the first element satisfying pred.
//
// When no elements satisfy pred, it returns (zero-value, false).
func First[T any](s []T, pred func(T) bool) (T, bool) {
	for _, v := range s {
		if pred(v) {
			return v, true
		}
	}
	return *new(T), false
}

// ToMap indexes s by the key drawn with key.
//
// When two elements share a key, the later one wins.
func ToMap[T any, K comparable](s []T, key func(T) K) map[K]T {
	ret := make(map[K]T, len(s))
	for _, v := range s {
		ret[key(v)] = v
	}
	return ret
}
