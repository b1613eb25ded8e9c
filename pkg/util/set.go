package util

// Set is a generic unordered collection of unique values
type Set[K comparable] map[K]struct{}

// SetOf creates a set holding the provided values
func SetOf[K comparable](vals ...K) Set[K] {
	res := make(Set[K], len(vals))
	for _, v := range vals {
		res[v] = struct{}{}
	}
	return res
}

// Add inserts a value into the set
func (s Set[K]) Add(v K) {
	s[v] = struct{}{}
}

// Remove deletes a value from the set
func (s Set[K]) Remove(v K) {
	delete(s, v)
}

// Contains reports whether the value is in the set
func (s Set[K]) Contains(v K) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of values in the set
func (s Set[K]) Len() int {
	return len(s)
}

// IsEmpty reports whether the set holds no values
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}

// Slice returns the set's values in no particular order
func (s Set[K]) Slice() []K {
	res := make([]K, 0, len(s))
	for v := range s {
		res = append(res, v)
	}
	return res
}
