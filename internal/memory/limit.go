package memory

import (
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"media-gallery/internal/logging"
)

// DefaultHeapRatio is the share of the container limit given to the Go heap.
// The rest covers libvips, cgo allocations and goroutine stacks.
const DefaultHeapRatio = 0.85

// Limit sources.
const (
	SourceGoMemLimit  = "GOMEMLIMIT"
	SourceMemoryLimit = "MEMORY_LIMIT"
	SourceNone        = "none"
)

// Limit describes the resolved heap limit.
type Limit struct {
	Source         string
	ContainerBytes int64
	HeapBytes      int64
	Ratio          float64
}

// ResolveLimit works out the heap limit from the environment read through
// getenv. It does not touch the runtime.
func ResolveLimit(getenv func(string) string) (Limit, error) {
	if v := getenv("GOMEMLIMIT"); v != "" {
		l := Limit{Source: SourceGoMemLimit}
		// The runtime has already parsed GOMEMLIMIT.
		if current := debug.SetMemoryLimit(-1); current > 0 && current < math.MaxInt64 {
			l.HeapBytes = current
		}
		return l, nil
	}

	raw := getenv("MEMORY_LIMIT")
	if raw == "" {
		return Limit{Source: SourceNone}, nil
	}
	container, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || container <= 0 {
		return Limit{Source: SourceNone}, fmt.Errorf("invalid MEMORY_LIMIT %q", raw)
	}

	ratio := DefaultHeapRatio
	if r := getenv("MEMORY_RATIO"); r != "" {
		parsed, err := strconv.ParseFloat(r, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			return Limit{Source: SourceNone}, fmt.Errorf("invalid MEMORY_RATIO %q: must be in (0, 1]", r)
		}
		ratio = parsed
	}

	return Limit{
		Source:         SourceMemoryLimit,
		ContainerBytes: container,
		HeapBytes:      int64(float64(container) * ratio),
		Ratio:          ratio,
	}, nil
}

// ConfigureFromEnv resolves the limit from the process environment and, when
// it comes from MEMORY_LIMIT, applies it as the runtime soft limit. Invalid
// values are logged and leave the runtime untouched.
func ConfigureFromEnv() Limit {
	l, err := ResolveLimit(os.Getenv)
	if err != nil {
		logging.Warn("Memory limit not configured: %v", err)
		return l
	}

	switch l.Source {
	case SourceGoMemLimit:
		logging.Info("  GOMEMLIMIT set via environment: %s", formatBytes(l.HeapBytes))
	case SourceMemoryLimit:
		debug.SetMemoryLimit(l.HeapBytes)
		logging.Info("  Configured GOMEMLIMIT: %s (%.0f%% of %s container limit)",
			formatBytes(l.HeapBytes), l.Ratio*100, formatBytes(l.ContainerBytes))
	default:
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT left unconfigured")
	}
	return l
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
