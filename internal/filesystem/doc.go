/*
Package filesystem provides resilient file operations for the gallery's
storage directories.

Everything written by the gallery (uploaded originals, thumbnails, transform
outputs, JSON store documents) goes through an atomic temp-file + fsync +
rename sequence, so a crash or a failed write never leaves a partial file
under the final name:

	err := filesystem.WriteFileAtomic(path, data, 0o644, filesystem.DefaultRetryConfig())

IsTransient classifies errors that are worth retrying (ESTALE from NFS,
EAGAIN, EBUSY, EINTR, ETIMEDOUT). The transform queue uses it to decide
whether a failed job is retried or terminal.

Retry metrics are reported through an Observer installed with SetObserver;
the metrics package provides the Prometheus implementation. Volume labels
come from a VolumeResolver set with SetDefaultVolumeResolver.
*/
package filesystem
