package storage

import (
	"os"
	"path/filepath"
	"sort"
)

// Usage is the on-disk footprint of the local stores, per labeled path.
type Usage struct {
	TotalBytes int64            `json:"total_bytes"`
	Paths      map[string]int64 `json:"paths"`
}

// DiskUsage sums the size of each labeled path (file or directory). SQLite WAL and shared
// memory side files are counted with their database. Missing paths contribute 0.
func DiskUsage(paths map[string]string) (Usage, error) {
	u := Usage{Paths: make(map[string]int64, len(paths))}
	labels := make([]string, 0, len(paths))
	for label := range paths {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		p := paths[label]
		n, err := DiskUsageBytes(p, p+"-wal", p+"-shm")
		if err != nil {
			return Usage{}, err
		}
		u.Paths[label] = n
		u.TotalBytes += n
	}
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" || p == "-wal" || p == "-shm" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
