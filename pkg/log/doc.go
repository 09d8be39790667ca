// Package log wraps zerolog with Ripple's logging conventions: a global
// logger configured once via Init, and component-scoped children created
// with WithComponent/WithTable/WithMutationID so every log line carries
// enough context to trace a row or mutation through the pipeline.
package log
