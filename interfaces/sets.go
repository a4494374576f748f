package interfaces

// AddMember appends v unless it is already present.
func AddMember[T comparable](set []T, v T) ([]T, bool) {
	if HasMember(set, v) {
		return set, false
	}
	return append(set, v), true
}

// RemoveMember drops v from set, preserving order.
func RemoveMember[T comparable](set []T, v T) ([]T, bool) {
	for i, m := range set {
		if m == v {
			return append(set[:i:i], set[i+1:]...), true
		}
	}
	return set, false
}

func HasMember[T comparable](set []T, v T) bool {
	for _, m := range set {
		if m == v {
			return true
		}
	}
	return false
}
