// Package relay fans a single upstream recent-change feed out to many
// filtered subscribers.
//
// Hub owns the subscriber registry and the wake signal. Controller owns the
// upstream session and decides when it should exist: it connects when the
// first subscriber arrives, keeps the session through gaps shorter than the
// grace period, and disconnects once the registry has stayed empty for that
// long. Each Subscription drains its own EvictingQueue, so a slow subscriber
// only ever loses its own oldest events.
package relay
