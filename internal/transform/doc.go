// Package transform runs declarative image transform jobs out of band.
//
// A job is a source asset plus an ordered list of operations (resize,
// rotate, reformat). Jobs are validated at Submit, buffered in a bounded
// FIFO and processed by a fixed pool of workers. Each job writes exactly one
// derived file whose name is derived from the source and the operations, so
// resubmitting the same job overwrites the same output. Transient I/O
// failures are retried with exponential backoff; decode and validation
// failures are terminal.
//
// When Config.Gate is set, a worker asks it for admission after taking a job
// off the queue, so memory pressure delays work without reordering it.
package transform
