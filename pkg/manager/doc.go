// Package manager implements the replication manager: the application-facing
// entry point that owns the table registry, serializes concurrent syncAll
// requests through a one-slot queue, runs the priority-ordered background
// sync loop, and orchestrates quota/eviction and tenant-scope changes across
// every registered table.
package manager
