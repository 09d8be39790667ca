// Package table implements the generic replicated-table abstraction: a
// durable local mirror of one server-side table, parameterised by the row's
// own Go type. Table owns optimistic-concurrency writes, TTL expiry, a
// coalesced subscription surface, hybrid LRU+LFU eviction scoring, and a
// read-through in-process cache in front of the durable store.
package table
