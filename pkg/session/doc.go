// Package session defines the Session entity, its lifecycle state
// machine, and the events emitted as sessions move between states.
//
// A Session describes one managed run of an external AI-assistant
// execution. The canonical copy is owned by the registry; the durable
// store and the cache each hold replicas, with the durable store
// winning on conflict. TERMINATED and FAILED are absorbing: once a
// session reaches either, no field may change.
package session
