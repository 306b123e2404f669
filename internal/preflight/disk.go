package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
)

const (
	// MinDiskSpaceBytes is the free space below which the data dir is unusable.
	MinDiskSpaceBytes = 100 * 1024 * 1024
	// LowDiskSpaceBytes is the free space below which doctor warns. A
	// SQLite history with 768-dim vectors grows by roughly 3 KB per record.
	LowDiskSpaceBytes = 1024 * 1024 * 1024
)

// CheckDiskSpace checks free space on the filesystem holding path. When
// path does not exist yet, its nearest existing parent is measured.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	target := existingParent(path)
	free, err := freeBytes(target)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat %s: %v", target, err)
		return result
	}

	result.Details = target
	result.Message = humanize.IBytes(free) + " free"
	switch {
	case free < MinDiskSpaceBytes:
		result.Status = StatusFail
		result.Message += ", need at least " + humanize.IBytes(MinDiskSpaceBytes)
	case free < LowDiskSpaceBytes:
		result.Status = StatusWarn
		result.Message += ", ingestion may run out of room"
	default:
		result.Status = StatusPass
	}
	return result
}

func freeBytes(dir string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// existingParent walks up from path to the first directory that exists.
func existingParent(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
