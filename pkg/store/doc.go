// Package store holds the two persistence contracts the registry
// writes through: the durable store (relational, source of truth) and
// the cache store (ephemeral key-value replica with TTL).
//
// The durable store supports conditional writes keyed on the session
// version so lost updates are detected instead of silently absorbed.
// The cache assumes no transactional guarantees; on any conflict the
// durable store wins.
package store
