package calib

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	ranges := map[string]float32{
		"0_l0_attention_qkv_mult": 3.75,
		"0_l0_gelu":               10,
		"0_embeddings_output":     1,
		"1_l11_output_reshape":    0.0078125,
		"classifier_score":        1,
		"tiny":                    1.1754944e-38,
	}

	var buf bytes.Buffer
	if err := WriteCache(&buf, ranges); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}

	got, err := ReadCache(&buf)
	if err != nil {
		t.Fatalf("ReadCache: %v", err)
	}
	if len(got) != len(ranges) {
		t.Fatalf("expected %d entries, got %d", len(ranges), len(got))
	}
	for name, want := range ranges {
		if got[name] != want {
			t.Fatalf("%s: got %v, want %v (round trip must be bit-exact)", name, got[name], want)
		}
	}
}

func TestCacheIsSortedAndDeterministic(t *testing.T) {
	t.Parallel()
	ranges := map[string]float32{"b": 2, "a": 1, "c": 3}

	var first, second bytes.Buffer
	if err := WriteCache(&first, ranges); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}
	if err := WriteCache(&second, ranges); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}
	if first.String() != second.String() {
		t.Fatal("cache serialization must be deterministic")
	}

	lines := strings.Split(strings.TrimSpace(first.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 entries, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "a: ") || !strings.HasPrefix(lines[3], "c: ") {
		t.Fatalf("entries not sorted: %v", lines[1:])
	}
}

func TestReadCacheRejectsBadHeader(t *testing.T) {
	t.Parallel()
	if _, err := ReadCache(strings.NewReader("not-a-cache\n")); err == nil {
		t.Fatal("expected error for bad header")
	}
	if _, err := ReadCache(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestCacheFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "calib.cache")
	ranges := map[string]float32{"x": 4.5}

	if err := WriteCacheFile(path, ranges); err != nil {
		t.Fatalf("WriteCacheFile: %v", err)
	}
	got, err := ReadCacheFile(path)
	if err != nil {
		t.Fatalf("ReadCacheFile: %v", err)
	}
	if got["x"] != 4.5 {
		t.Fatalf("got %v", got)
	}
}

func TestSliceSource(t *testing.T) {
	t.Parallel()
	src := NewSliceSource([]*Batch{
		{InputIDs: []int32{1, 2}, SegmentIDs: []int32{0, 0}, InputMask: []int32{1, 1}},
		{InputIDs: []int32{3, 4}, SegmentIDs: []int32{0, 0}, InputMask: []int32{1, 0}},
	})

	ctx := context.Background()
	first, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.InputIDs[0] != 1 {
		t.Fatalf("unexpected batch: %+v", first)
	}
	if _, err := src.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at the end, got %v", err)
	}

	src.Reset()
	if b, err := src.Next(ctx); err != nil || b.InputIDs[0] != 1 {
		t.Fatalf("Reset did not rewind: %+v, %v", b, err)
	}
}
