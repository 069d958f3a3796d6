package calib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// cacheMagic heads every calibration cache file; the trailing integer is the
// format version.
const cacheMagic = "BertCalibCache-1"

// WriteCache persists per-tensor dynamic ranges as text, one
// "name: <hex float32 bits>" line per tensor, sorted by name. The hex
// encoding keeps the round trip bit-exact.
func WriteCache(w io.Writer, ranges map[string]float32) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, cacheMagic); err != nil {
		return err
	}

	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(bw, "%s: %08x\n", name, math.Float32bits(ranges[name])); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadCache parses a cache produced by WriteCache.
func ReadCache(r io.Reader) (map[string]float32, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil, fmt.Errorf("calibration cache: empty file")
	}
	if scanner.Text() != cacheMagic {
		return nil, fmt.Errorf("calibration cache: bad header %q", scanner.Text())
	}

	ranges := make(map[string]float32)
	line := 1
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		name, hex, ok := strings.Cut(text, ": ")
		if !ok {
			return nil, fmt.Errorf("calibration cache: malformed line %d", line)
		}
		var bits uint32
		if _, err := fmt.Sscanf(hex, "%08x", &bits); err != nil {
			return nil, fmt.Errorf("calibration cache: line %d: %w", line, err)
		}
		ranges[name] = math.Float32frombits(bits)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ranges, nil
}

// WriteCacheFile writes the cache to path via a temp file and rename, so a
// failed write never leaves a partial cache behind.
func WriteCacheFile(path string, ranges map[string]float32) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calib-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := WriteCache(tmp, ranges); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCacheFile loads a cache file written by WriteCacheFile.
func ReadCacheFile(path string) (map[string]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCache(f)
}
