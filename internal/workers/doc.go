/*
Package workers sizes the transform worker pool in containerized environments.

Go 1.19+ sets GOMAXPROCS from the container CPU limit, but runtime.NumCPU still
reports the host's CPUs. Worker counts are therefore derived from GOMAXPROCS:

	workers.ForCPU(4)   // 1 per available CPU, at most 4
	workers.ForIO(16)   // 2 per available CPU, at most 16
	workers.ForMixed(8) // 1.5 per available CPU, at most 8

The transform queue reads TRANSFORM_WORKERS through FromEnv. The default is a
single worker, which keeps job execution globally FIFO; "auto" trades that
ordering for one worker per CPU:

	env:
	- name: TRANSFORM_WORKERS
	  value: "auto"

All functions are safe for concurrent use.
*/
package workers
