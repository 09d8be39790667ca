// Package config loads Ripple's runtime configuration from a YAML file on
// disk, with cobra/pflag-bound command-line overrides layered on top. The
// YAML file describes tables, storage, and transport settings; flags cover
// the handful of values an operator typically wants to override per run.
package config
