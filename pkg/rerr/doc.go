// Package rerr defines the sentinel error taxonomy shared by every
// replication component, matching the failure classes in the design's
// error-handling section: transient I/O, quota, conflict, version skew,
// schema, and structural errors.
package rerr
