package mocks

type CallLog[T any] []T

func (l CallLog[T]) Times() uint {
	return uint(len(l))
}

func (l CallLog[T]) Last() (T, bool) {
	if len(l) == 0 {
		return *new(T), false
	}
	return l[len(l)-1], true
}
