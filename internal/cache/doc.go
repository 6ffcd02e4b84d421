// Package cache provides TTL-based entity caches with JSON disk persistence.
// EntityCache holds a whole payload (the dataset catalog in practice) behind
// an envelope carrying created_at/expires_at metadata, loading lazily from
// disk at most once per process and replacing contents wholesale on refresh.
// ArtifactCache tracks downloaded dataset files and self-heals when a file
// disappears from disk. Writes go through temp file + rename so readers never
// observe a torn artifact.
package cache
