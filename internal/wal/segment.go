package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

func segmentName(n uint64) string {
	return fmt.Sprintf("%08d.wal", n)
}

func segmentNumber(name string) (uint64, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".wal")
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listSegmentFiles returns the *.wal file names present in dir, sorted
// numerically ascending.
func listSegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := segmentNumber(e.Name()); ok && strings.HasSuffix(e.Name(), ".wal") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := segmentNumber(names[i])
		b, _ := segmentNumber(names[j])
		return a < b
	})
	return names, nil
}

func openSegmentForAppend(dir, name string) (*os.File, int64, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: open segment %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("wal: stat segment %s: %w", name, err)
	}
	return f, info.Size(), nil
}
