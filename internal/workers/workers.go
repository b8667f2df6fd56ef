package workers

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// OverrideEnv is the environment variable that pins the worker count.
const OverrideEnv = "TRANSFORM_WORKERS"

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//   - 1.5 for mixed tasks
//
// The limit parameter caps the worker count to prevent resource exhaustion.
// Use 0 for no limit.
func Count(multiplier float64, limit int) int {
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns worker count for mixed tasks (1.5 per CPU).
func ForMixed(limit int) int {
	return Count(1.5, limit)
}

// Resolve turns a TRANSFORM_WORKERS style value into a worker count.
//
//   - ""      -> def
//   - "auto"  -> ForCPU(limit)
//   - "N"     -> N, capped by limit when limit > 0
func Resolve(value string, def, limit int) (int, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return def, nil
	case "auto":
		return ForCPU(limit), nil
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid worker count %q: must be a positive integer or \"auto\"", value)
	}
	if limit > 0 && n > limit {
		return limit, nil
	}
	return n, nil
}

// FromEnv resolves the worker count from TRANSFORM_WORKERS.
func FromEnv(def, limit int) (int, error) {
	return Resolve(os.Getenv(OverrideEnv), def, limit)
}
