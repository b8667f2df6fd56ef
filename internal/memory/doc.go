// Package memory keeps the gallery inside its container memory budget.
//
// Decoding a large upload or transform source can take hundreds of
// megabytes, and Go does not derive GOMEMLIMIT from cgroup limits the way it
// derives GOMAXPROCS. [ConfigureFromEnv] sets the soft limit from the
// Kubernetes Downward API:
//
//   - GOMEMLIMIT: standard Go variable, wins when set
//   - MEMORY_LIMIT: container limit in bytes
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the Go heap (default 0.85)
//
// A [Gate] samples the heap against that limit and holds transform workers
// back while usage is above the pause mark, letting them continue once it
// drops below the resume mark:
//
//	gate := memory.NewGate(memory.DefaultGateConfig())
//	gate.Start()
//	defer gate.Stop()
//
//	if !gate.Admit(stop) {
//	    return // shutting down
//	}
//
// Without a limit the gate never closes.
package memory
