//go:build unix

package replacement

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapSnapshotFile memory-maps path read-only. The returned bytes are valid
// until release is called.
func mapSnapshotFile(path string) ([]byte, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if info.Size() == 0 {
		return nil, func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map snapshot: %w", err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
