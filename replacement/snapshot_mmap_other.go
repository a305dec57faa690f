//go:build !unix

package replacement

import "os"

// mapSnapshotFile reads path into memory on platforms without unix mmap.
func mapSnapshotFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
