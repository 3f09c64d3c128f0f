package segment

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/ontogen/errors"
)

// memoryReserveMB stays free for the parent process and the system
const memoryReserveMB = 1024

// MemoryStats reports total and available memory in bytes
type MemoryStats func() (total, available uint64, err error)

// SystemMemory reads memory from the operating system
func SystemMemory() (uint64, uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// recommendedWorkers is how many workers of perWorkerMB fit into availableMB
func recommendedWorkers(availableMB, perWorkerMB float64) int {
	if perWorkerMB <= 0 || availableMB < memoryReserveMB {
		return 1
	}
	n := int((availableMB - memoryReserveMB) / perWorkerMB)
	if n < 1 {
		return 1
	}
	return n
}

// memoryWarning returns a warning when maxConcurrent workers would likely
// exhaust memory, or "" when they fit or memory cannot be read
func memoryWarning(stats MemoryStats, maxConcurrent, perWorkerMB int) string {
	if stats == nil || perWorkerMB <= 0 {
		return ""
	}
	total, available, err := stats()
	if err != nil || total == 0 {
		return ""
	}
	availableMB := float64(available) / 1024 / 1024
	totalMB := float64(total) / 1024 / 1024
	recommended := recommendedWorkers(availableMB, float64(perWorkerMB))
	if maxConcurrent <= recommended {
		return ""
	}
	return fmt.Sprintf(
		"Concurrent segments (%d) exceed recommended (%d) for available memory (%.0f/%.0fMB free at %dMB per worker). "+
			"Consider lowering segments.max_concurrent.",
		maxConcurrent, recommended, availableMB, totalMB, perWorkerMB)
}
