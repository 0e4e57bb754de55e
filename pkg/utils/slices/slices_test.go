package slices_test

import (
	"strconv"
	"testing"

	"github.com/opst/shipfab/pkg/utils/cmp"
	"github.com/opst/shipfab/pkg/utils/slices"
)

func TestMap(t *testing.T) {
	t.Run("it converts each element", func(t *testing.T) {
		actual := slices.Map([]int{1, 2, 3}, strconv.Itoa)
		expected := []string{"1", "2", "3"}
		if !cmp.SliceEq(actual, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
		}
	})
	t.Run("it returns empty slice for empty input", func(t *testing.T) {
		actual := slices.Map([]int{}, strconv.Itoa)
		if len(actual) != 0 {
			t.Errorf("unmatch: actual = %v, expected empty", actual)
		}
	})
}

func TestTryMap(t *testing.T) {
	t.Run("it converts each element", func(t *testing.T) {
		actual, err := slices.TryMap([]string{"1", "2", "3"}, strconv.Atoi)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		expected := []int{1, 2, 3}
		if !cmp.SliceEq(actual, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
		}
	})
	t.Run("it stops at the first error", func(t *testing.T) {
		_, err := slices.TryMap([]string{"1", "x", "3"}, strconv.Atoi)
		if err == nil {
			t.Error("error is not returned, unexpectedly")
		}
	})
}

func TestFilter(t *testing.T) {
	t.Run("it keeps elements satisfying predicate, in order", func(t *testing.T) {
		actual := slices.Filter([]int{1, 2, 3, 4, 5}, func(v int) bool { return v%2 == 1 })
		expected := []int{1, 3, 5}
		if !cmp.SliceEq(actual, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
		}
	})
}

func TestFirst(t *testing.T) {
	t.Run("it returns the first element satisfying predicate", func(t *testing.T) {
		actual, ok := slices.First([]int{1, 2, 3, 4}, func(v int) bool { return 2 < v })
		if !ok {
			t.Fatal("element is not found, unexpectedly")
		}
		if actual != 3 {
			t.Errorf("unmatch: (actual, expected) = (%d, %d)", actual, 3)
		}
	})
	t.Run("it returns false when no elements satisfy predicate", func(t *testing.T) {
		_, ok := slices.First([]int{1, 2, 3}, func(v int) bool { return 10 < v })
		if ok {
			t.Error("element is found, unexpectedly")
		}
	})
}

func TestToMap(t *testing.T) {
	type item struct {
		Id   string
		Size int
	}
	t.Run("it indexes elements by key", func(t *testing.T) {
		actual := slices.ToMap(
			[]item{{Id: "a", Size: 1}, {Id: "b", Size: 2}},
			func(v item) string { return v.Id },
		)
		expected := map[string]item{
			"a": {Id: "a", Size: 1},
			"b": {Id: "b", Size: 2},
		}
		if !cmp.MapEq(actual, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
		}
	})
	t.Run("it lets the later element win on key collision", func(t *testing.T) {
		actual := slices.ToMap(
			[]item{{Id: "a", Size: 1}, {Id: "a", Size: 3}},
			func(v item) string { return v.Id },
		)
		if got := actual["a"].Size; got != 3 {
			t.Errorf("unmatch: (actual, expected) = (%d, %d)", got, 3)
		}
	})
}
