package main

import (
	"reflect"
	"testing"
)

func TestParseBatchSizes(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		got, err := parseBatchSizes("1")
		if err != nil {
			t.Fatalf("parseBatchSizes returned error: %v", err)
		}
		if !reflect.DeepEqual(got, []int{1}) {
			t.Fatalf("unexpected sizes: %v", got)
		}
	})

	t.Run("list with spaces", func(t *testing.T) {
		got, err := parseBatchSizes("1, 4, 8")
		if err != nil {
			t.Fatalf("parseBatchSizes returned error: %v", err)
		}
		if !reflect.DeepEqual(got, []int{1, 4, 8}) {
			t.Fatalf("unexpected sizes: %v", got)
		}
	})

	t.Run("rejects junk", func(t *testing.T) {
		for _, in := range []string{"", ",", "0", "-2", "four"} {
			if _, err := parseBatchSizes(in); err == nil {
				t.Fatalf("expected error for %q", in)
			}
		}
	})
}
