// Package stores provides the persistence layer for loom.
// It includes SQLite-based storage with WAL mode and embedded
// migrations, covering the resolved-input cache, per-phase execution
// fingerprints, and the queryable run index.
package stores
